package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"geonotes/internal/domain"
	"geonotes/internal/repository"
)

const createCommentsTable = `
CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	author_id INTEGER NOT NULL,
	author_name TEXT NOT NULL,
	text TEXT NOT NULL,
	lat REAL NOT NULL,
	lng REAL NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY(author_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_comments_created_at ON comments(created_at);

CREATE TABLE IF NOT EXISTS comment_attachments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	comment_id INTEGER NOT NULL,
	stored_name TEXT NOT NULL,
	original_name TEXT NOT NULL,
	url TEXT NOT NULL,
	size INTEGER NOT NULL,
	FOREIGN KEY(comment_id) REFERENCES comments(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_comment_attachments_comment_id ON comment_attachments(comment_id);
`

type CommentRepository struct {
	db *sql.DB
}

func NewCommentRepository(db *sql.DB) repository.CommentRepository {
	return &CommentRepository{db: db}
}

func (r *CommentRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createCommentsTable); err != nil {
		return fmt.Errorf("create comments tables: %w", err)
	}
	return nil
}

// Create inserts the comment and its attachment rows in one transaction.
// Attachment insertion order is preserved; rows are read back ordered by id.
func (r *CommentRepository) Create(ctx context.Context, comment *domain.Comment) (int64, error) {
	now := time.Now().UTC()
	comment.CreatedAt = now
	comment.UpdatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	res, err := tx.ExecContext(ctx, `
INSERT INTO comments (author_id, author_name, text, lat, lng, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		comment.AuthorID,
		comment.AuthorName,
		comment.Text,
		comment.Lat,
		comment.Lng,
		comment.CreatedAt,
		comment.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert comment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("comment last insert id: %w", err)
	}

	for i := range comment.Attachments {
		att := &comment.Attachments[i]
		att.CommentID = id
		res, err := tx.ExecContext(ctx, `
INSERT INTO comment_attachments (comment_id, stored_name, original_name, url, size)
VALUES (?, ?, ?, ?, ?)`,
			att.CommentID,
			att.StoredName,
			att.OriginalName,
			att.URL,
			att.Size,
		)
		if err != nil {
			return 0, fmt.Errorf("insert attachment: %w", err)
		}
		if att.ID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("attachment last insert id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	comment.ID = id
	return id, nil
}

func (r *CommentRepository) Get(ctx context.Context, id int64) (*domain.Comment, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, author_id, author_name, text, lat, lng, created_at, updated_at
FROM comments
WHERE id = ?`, id)

	var comment domain.Comment
	if err := scanComment(row, &comment); err != nil {
		return nil, err
	}

	attachments, err := r.listAttachments(ctx, id)
	if err != nil {
		return nil, err
	}
	comment.Attachments = attachments
	return &comment, nil
}

// List returns all comments newest first, attachments loaded.
func (r *CommentRepository) List(ctx context.Context) ([]domain.Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, author_id, author_name, text, lat, lng, created_at, updated_at
FROM comments
ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		var comment domain.Comment
		if err := scanComment(rows, &comment); err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}

	for i := range comments {
		attachments, err := r.listAttachments(ctx, comments[i].ID)
		if err != nil {
			return nil, err
		}
		comments[i].Attachments = attachments
	}
	return comments, nil
}

func (r *CommentRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comment_attachments WHERE comment_id = ?`, id); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *CommentRepository) listAttachments(ctx context.Context, commentID int64) ([]domain.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, comment_id, stored_name, original_name, url, size
FROM comment_attachments
WHERE comment_id = ?
ORDER BY id ASC`, commentID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	var attachments []domain.Attachment
	for rows.Next() {
		var att domain.Attachment
		if err := rows.Scan(&att.ID, &att.CommentID, &att.StoredName, &att.OriginalName, &att.URL, &att.Size); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, att)
	}
	return attachments, rows.Err()
}

func scanComment(row interface {
	Scan(dest ...any) error
}, comment *domain.Comment) error {
	if err := row.Scan(
		&comment.ID,
		&comment.AuthorID,
		&comment.AuthorName,
		&comment.Text,
		&comment.Lat,
		&comment.Lng,
		&comment.CreatedAt,
		&comment.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("scan comment: %w", err)
	}
	return nil
}
