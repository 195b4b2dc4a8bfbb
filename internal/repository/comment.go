package repository

import (
	"context"

	"geonotes/internal/domain"
)

// CommentRepository exposes persistence operations for Comment aggregates.
// Create persists the comment together with its attachment rows in one
// transaction, preserving attachment order. Get and List return comments
// with attachments loaded.
type CommentRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, comment *domain.Comment) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Comment, error)
	List(ctx context.Context) ([]domain.Comment, error)
	Delete(ctx context.Context, id int64) error
}
