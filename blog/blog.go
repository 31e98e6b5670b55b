// Package blog stores posts, comments and replies and decides who may
// change them.
//
// Posts are removed outright. Comments and replies are soft-deleted: their
// State becomes Deleted with a tombstone message, and they keep their place
// in the thread so replies under a deleted comment still make sense.
package blog

import (
	"encoding/json"
	"errors"
	"time"
)

// Tombstones shown in place of deleted content.
const (
	CommentDeletedByUser  = "Comment deleted by user"
	CommentDeletedByAdmin = "Comment deleted by admin"
	ReplyDeletedByUser    = "Reply deleted by user"
	ReplyDeletedByAdmin   = "Reply deleted by admin"
)

var (
	// ErrNotFound covers missing documents, malformed ids, and edits to
	// soft-deleted comments or replies.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the principal may not mutate a resource.
	ErrForbidden = errors.New("forbidden")
)

// Principal is the acting identity.
type Principal struct {
	ID      string
	IsAdmin bool
}

// CanMutate reports whether p may change or delete a resource owned by ownerID.
func CanMutate(p Principal, ownerID string) bool {
	return p.IsAdmin || (p.ID != "" && p.ID == ownerID)
}

// State is the content state of a comment or reply: Active or Deleted.
type State interface {
	isState()
}

// Active holds live content.
type Active struct {
	Content string
}

// Deleted replaces content with a tombstone message.
type Deleted struct {
	Tombstone string
}

func (Active) isState()  {}
func (Deleted) isState() {}

// Text returns the visible text of s: the content, or the tombstone.
func Text(s State) string {
	switch s := s.(type) {
	case Active:
		return s.Content
	case Deleted:
		return s.Tombstone
	}
	return ""
}

// IsDeleted reports whether s is Deleted.
func IsDeleted(s State) bool {
	_, ok := s.(Deleted)
	return ok
}

// retract returns the Deleted state for a removal by p of content owned by
// ownerID. The owner gets the user tombstone even when also an admin.
func retract(p Principal, ownerID, byUser, byAdmin string) Deleted {
	if p.ID == ownerID {
		return Deleted{Tombstone: byUser}
	}
	return Deleted{Tombstone: byAdmin}
}

// stateJSON is the wire and storage shape of a State.
type stateJSON struct {
	Content string `json:"content"`
	Deleted bool   `json:"deleted"`
}

func encodeState(s State) stateJSON {
	return stateJSON{Content: Text(s), Deleted: IsDeleted(s)}
}

func (j stateJSON) decode() State {
	if j.Deleted {
		return Deleted{Tombstone: j.Content}
	}
	return Active{Content: j.Content}
}

// Post is a blog post.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment is a top-level response to a post.
type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

type commentJSON struct {
	ID       string `json:"id"`
	PostID   string `json:"postId"`
	AuthorID string `json:"authorId"`
	stateJSON
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c Comment) MarshalJSON() ([]byte, error) {
	return json.Marshal(commentJSON{
		ID:        c.ID,
		PostID:    c.PostID,
		AuthorID:  c.AuthorID,
		stateJSON: encodeState(c.State),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	})
}

func (c *Comment) UnmarshalJSON(data []byte) error {
	var j commentJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*c = Comment{
		ID:        j.ID,
		PostID:    j.PostID,
		AuthorID:  j.AuthorID,
		State:     j.decode(),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	return nil
}

// Reply answers a comment.
type Reply struct {
	ID        string
	PostID    string
	CommentID string
	AuthorID  string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

type replyJSON struct {
	ID        string `json:"id"`
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
	AuthorID  string `json:"authorId"`
	stateJSON
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r Reply) MarshalJSON() ([]byte, error) {
	return json.Marshal(replyJSON{
		ID:        r.ID,
		PostID:    r.PostID,
		CommentID: r.CommentID,
		AuthorID:  r.AuthorID,
		stateJSON: encodeState(r.State),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	var j replyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*r = Reply{
		ID:        j.ID,
		PostID:    j.PostID,
		CommentID: j.CommentID,
		AuthorID:  j.AuthorID,
		State:     j.decode(),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	return nil
}
