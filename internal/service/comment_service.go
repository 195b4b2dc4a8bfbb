package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"geonotes/internal/domain"
	"geonotes/internal/repository"
	"geonotes/internal/storage"
)

var (
	// ErrInvalidInput indicates a validation failure on comment creation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCommentNotFound is returned for unknown comment ids.
	ErrCommentNotFound = errors.New("comment not found")
	// ErrForbidden is returned when the caller does not own the comment.
	ErrForbidden = errors.New("not allowed")
)

// CreateCommentInput carries a validated caller identity plus the raw
// creation payload. Uploads are blobs the HTTP boundary already wrote to
// the store while parsing the multipart request; on any failure the
// service removes them before returning.
type CreateCommentInput struct {
	AuthorID   int64
	AuthorName string
	Text       string
	Coords     []float64 // decoded (lat, lng) pair, when available
	CoordsRaw  string    // JSON-encoded pair, as sent in multipart forms
	Uploads    []storage.StoredBlob
}

// CommentService coordinates the comment lifecycle: creation with
// attachment rollback, newest-first listing, and owner-only deletion
// with best-effort blob cleanup.
type CommentService interface {
	Create(ctx context.Context, input CreateCommentInput) (*domain.Comment, error)
	List(ctx context.Context) ([]domain.Comment, error)
	Delete(ctx context.Context, id, callerID int64) error
}

type commentService struct {
	comments repository.CommentRepository
	blobs    storage.Store
	log      logrus.FieldLogger
}

func NewCommentService(comments repository.CommentRepository, blobs storage.Store, log logrus.FieldLogger) CommentService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &commentService{
		comments: comments,
		blobs:    blobs,
		log:      log,
	}
}

// Create validates the payload and persists the comment with its
// attachments in upload order. A failed creation never leaves orphaned
// blobs: every upload already written for this request is deleted before
// the error is returned.
func (s *commentService) Create(ctx context.Context, input CreateCommentInput) (*domain.Comment, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		s.discardUploads(ctx, input.Uploads)
		return nil, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}

	lat, lng, err := resolveCoords(input)
	if err != nil {
		s.discardUploads(ctx, input.Uploads)
		return nil, err
	}

	comment := &domain.Comment{
		AuthorID:    input.AuthorID,
		AuthorName:  input.AuthorName,
		Text:        text,
		Lat:         lat,
		Lng:         lng,
		Attachments: attachmentsFromUploads(input.Uploads),
	}

	if _, err := s.comments.Create(ctx, comment); err != nil {
		s.discardUploads(ctx, input.Uploads)
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return comment, nil
}

func (s *commentService) List(ctx context.Context) ([]domain.Comment, error) {
	comments, err := s.comments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// Delete removes the comment and its attachment blobs if the caller owns
// it. Blob deletions are independent and best-effort: a failure is logged
// and never aborts the remaining deletions or the record delete.
func (s *commentService) Delete(ctx context.Context, id, callerID int64) error {
	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCommentNotFound
		}
		return fmt.Errorf("load comment: %w", err)
	}

	if !CanDelete(comment, callerID) {
		return ErrForbidden
	}

	for _, att := range comment.Attachments {
		if err := s.blobs.Delete(ctx, att.StoredName); err != nil {
			s.log.Warnf("delete attachment %s of comment %d: %v", att.StoredName, id, err)
		}
	}

	if err := s.comments.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCommentNotFound
		}
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// CanDelete reports whether the given user may delete the comment.
func CanDelete(comment *domain.Comment, userID int64) bool {
	return comment != nil && comment.AuthorID == userID
}

// discardUploads removes every blob written for a failed creation. Each
// removal is awaited individually; failures are logged and swallowed so
// they never mask the primary error.
func (s *commentService) discardUploads(ctx context.Context, uploads []storage.StoredBlob) {
	for _, blob := range uploads {
		if err := s.blobs.Delete(ctx, blob.Name); err != nil {
			s.log.Warnf("discard upload %s: %v", blob.Name, err)
		}
	}
}

func resolveCoords(input CreateCommentInput) (lat, lng float64, err error) {
	pair := input.Coords
	if len(pair) == 0 {
		raw := strings.TrimSpace(input.CoordsRaw)
		if raw == "" {
			return 0, 0, fmt.Errorf("%w: coords are required", ErrInvalidInput)
		}
		if err := json.Unmarshal([]byte(raw), &pair); err != nil {
			return 0, 0, fmt.Errorf("%w: coords must be a JSON array of numbers", ErrInvalidInput)
		}
	}
	if len(pair) != 2 {
		return 0, 0, fmt.Errorf("%w: coords must contain exactly two numbers", ErrInvalidInput)
	}
	return pair[0], pair[1], nil
}

func attachmentsFromUploads(uploads []storage.StoredBlob) []domain.Attachment {
	if len(uploads) == 0 {
		return nil
	}
	attachments := make([]domain.Attachment, len(uploads))
	for i, blob := range uploads {
		attachments[i] = domain.Attachment{
			StoredName:   blob.Name,
			OriginalName: blob.OriginalName,
			URL:          blob.URL,
			Size:         blob.Size,
		}
	}
	return attachments
}
