package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"geonotes/internal/domain"
	"geonotes/internal/repository"
	"geonotes/internal/storage"
)

type memCommentRepo struct {
	nextID     int64
	comments   map[int64]domain.Comment
	failCreate bool
}

func newMemCommentRepo() *memCommentRepo {
	return &memCommentRepo{comments: make(map[int64]domain.Comment)}
}

func (r *memCommentRepo) Init(ctx context.Context) error { return nil }

func (r *memCommentRepo) Create(ctx context.Context, comment *domain.Comment) (int64, error) {
	if r.failCreate {
		return 0, errors.New("insert failed")
	}
	r.nextID++
	comment.ID = r.nextID
	// distinct, increasing timestamps so ordering is observable
	comment.CreatedAt = time.Unix(1700000000+r.nextID, 0).UTC()
	comment.UpdatedAt = comment.CreatedAt
	for i := range comment.Attachments {
		comment.Attachments[i].ID = int64(i + 1)
		comment.Attachments[i].CommentID = comment.ID
	}
	r.comments[comment.ID] = cloneComment(*comment)
	return comment.ID, nil
}

func (r *memCommentRepo) Get(ctx context.Context, id int64) (*domain.Comment, error) {
	comment, ok := r.comments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := cloneComment(comment)
	return &clone, nil
}

func (r *memCommentRepo) List(ctx context.Context) ([]domain.Comment, error) {
	var comments []domain.Comment
	for _, comment := range r.comments {
		comments = append(comments, cloneComment(comment))
	}
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.After(comments[j].CreatedAt)
		}
		return comments[i].ID > comments[j].ID
	})
	return comments, nil
}

func (r *memCommentRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.comments[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.comments, id)
	return nil
}

func cloneComment(comment domain.Comment) domain.Comment {
	clone := comment
	clone.Attachments = append([]domain.Attachment(nil), comment.Attachments...)
	return clone
}

type memStore struct {
	nextID     int64
	blobs      map[string][]byte
	failDelete bool
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Save(ctx context.Context, originalName string, r io.Reader) (storage.StoredBlob, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return storage.StoredBlob{}, err
	}
	s.nextID++
	name := fmt.Sprintf("%d-%s", s.nextID, originalName)
	s.blobs[name] = data
	return storage.StoredBlob{
		Name:         name,
		OriginalName: originalName,
		URL:          "/uploads/" + name,
		Size:         int64(len(data)),
	}, nil
}

func (s *memStore) Delete(ctx context.Context, storedName string) error {
	if s.failDelete {
		return errors.New("delete failed")
	}
	delete(s.blobs, storedName)
	return nil
}

type memUserRepo struct {
	nextID int64
	users  map[int64]domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int64]domain.User)}
}

func (r *memUserRepo) Init(ctx context.Context) error { return nil }

func (r *memUserRepo) Create(ctx context.Context, user *domain.User) (int64, error) {
	for _, existing := range r.users {
		if existing.Username == user.Username {
			return 0, fmt.Errorf("username %q: %w", user.Username, repository.ErrDuplicate)
		}
	}
	r.nextID++
	user.ID = r.nextID
	r.users[user.ID] = *user
	return user.ID, nil
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, user := range r.users {
		if user.Username == username {
			clone := user
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := user
	return &clone, nil
}
