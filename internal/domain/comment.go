package domain

import "time"

// Comment represents a geo-tagged note dropped on the map by a user.
// Comments are immutable once created; the only lifecycle transition
// after creation is deletion by the owning user.
type Comment struct {
	ID          int64
	AuthorID    int64
	AuthorName  string
	Text        string
	Lat         float64
	Lng         float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Attachments []Attachment
}

// Attachment captures a single uploaded image blob referenced by a comment.
// Slice order on the parent comment is display order.
type Attachment struct {
	ID           int64
	CommentID    int64
	StoredName   string
	OriginalName string
	URL          string
	Size         int64
}
