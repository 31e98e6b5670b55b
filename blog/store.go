package blog

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/inkwell/internal/ids"
	"github.com/jmcleod/inkwell/storage"
)

const (
	collection = "blog"

	postType    = "post"
	commentType = "comment"
	replyType   = "reply"
)

// Index record types. Each is a prefix completed by a parent or author id;
// the record ids inside are the children.
func commentsOf(postID string) string   { return "comments_of:" + postID }
func repliesOf(commentID string) string { return "replies_of:" + commentID }
func postsBy(authorID string) string    { return "posts_by:" + authorID }
func commentsBy(authorID string) string { return "comments_by:" + authorID }
func repliesBy(authorID string) string  { return "replies_by:" + authorID }

var marker = &storage.Record{Ver: 1, Scheme: storage.SchemeJSON, Data: []byte("{}")}

// Store persists blog content in a storage.Repository.
type Store struct {
	repo   storage.Repository
	now    func() time.Time
	logger *slog.Logger
}

// NewStore returns a Store over repo.
func NewStore(repo storage.Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, now: time.Now, logger: logger}
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

func get[T any](ctx context.Context, s *Store, recordType, id string) (*T, error) {
	if !ids.Valid(id) {
		return nil, ErrNotFound
	}
	rec, err := s.repo.Get(ctx, collection, recordType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := storage.DecodeJSON(rec, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func put(tx storage.BatchTx, recordType, id string, v any) error {
	rec, err := storage.EncodeJSON(v, 0)
	if err != nil {
		return err
	}
	return tx.Put(recordType, id, rec)
}

// children returns the ids under an index, oldest first.
func (s *Store) children(ctx context.Context, index string) ([]string, error) {
	out, err := s.repo.List(ctx, collection, index)
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// ---------------------------------------------------------------------------
// Posts
// ---------------------------------------------------------------------------

// CreatePost stores a new post by authorID.
func (s *Store) CreatePost(ctx context.Context, authorID, title, content string) (*Post, error) {
	now := s.timestamp()
	p := &Post{ID: ids.New(), AuthorID: authorID, Title: title, Content: content, CreatedAt: now, UpdatedAt: now}
	err := s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		if err := put(tx, postType, p.ID, p); err != nil {
			return err
		}
		return tx.Put(postsBy(authorID), p.ID, marker)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPost returns the post with id.
func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	return get[Post](ctx, s, postType, id)
}

// ListPosts returns one page of posts, newest first, and the total count.
func (s *Store) ListPosts(ctx context.Context, limit, offset int) ([]*Post, int, error) {
	postIDs, err := s.repo.List(ctx, collection, postType)
	if err != nil {
		return nil, 0, err
	}
	slices.Sort(postIDs)
	slices.Reverse(postIDs)

	total := len(postIDs)
	start := min(offset, total)
	end := min(start+limit, total)

	posts := make([]*Post, 0, end-start)
	for _, id := range postIDs[start:end] {
		p, err := s.GetPost(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, p)
	}
	return posts, total, nil
}

// UpdatePost replaces the title and content of a post.
func (s *Store) UpdatePost(ctx context.Context, by Principal, id, title, content string) (*Post, error) {
	p, err := s.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanMutate(by, p.AuthorID) {
		return nil, ErrForbidden
	}
	p.Title, p.Content, p.UpdatedAt = title, content, s.timestamp()
	err = s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		return put(tx, postType, p.ID, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePost removes a post, then its comments and replies. Failures in
// the child cleanup are logged and do not fail the call.
func (s *Store) DeletePost(ctx context.Context, by Principal, id string) error {
	p, err := s.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if !CanMutate(by, p.AuthorID) {
		return ErrForbidden
	}
	return s.removePost(ctx, p)
}

func (s *Store) removePost(ctx context.Context, p *Post) error {
	err := s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		if err := tx.Delete(postType, p.ID); err != nil {
			return err
		}
		return ignoreNotFound(tx.Delete(postsBy(p.AuthorID), p.ID))
	})
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := s.purgeComments(ctx, p.ID); err != nil {
		s.logger.Warn("post children cleanup incomplete", "post_id", p.ID, "error", err)
	}
	return nil
}

// purgeComments hard-deletes every comment of postID and their replies.
func (s *Store) purgeComments(ctx context.Context, postID string) error {
	commentIDs, err := s.children(ctx, commentsOf(postID))
	if err != nil {
		return err
	}
	var errs []error
	for _, cid := range commentIDs {
		c, err := get[Comment](ctx, s, commentType, cid)
		if err == nil {
			errs = append(errs, s.purgeReplies(ctx, c.ID))
			errs = append(errs, s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
				if err := ignoreNotFound(tx.Delete(commentType, c.ID)); err != nil {
					return err
				}
				return ignoreNotFound(tx.Delete(commentsBy(c.AuthorID), c.ID))
			}))
		} else if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
		errs = append(errs, ignoreNotFound(s.repo.Delete(ctx, collection, commentsOf(postID), cid)))
	}
	return errors.Join(errs...)
}

func (s *Store) purgeReplies(ctx context.Context, commentID string) error {
	replyIDs, err := s.children(ctx, repliesOf(commentID))
	if err != nil {
		return err
	}
	var errs []error
	for _, rid := range replyIDs {
		r, err := get[Reply](ctx, s, replyType, rid)
		if err == nil {
			errs = append(errs, s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
				if err := ignoreNotFound(tx.Delete(replyType, r.ID)); err != nil {
					return err
				}
				return ignoreNotFound(tx.Delete(repliesBy(r.AuthorID), r.ID))
			}))
		} else if !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
		errs = append(errs, ignoreNotFound(s.repo.Delete(ctx, collection, repliesOf(commentID), rid)))
	}
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// Comments
// ---------------------------------------------------------------------------

// CreateComment adds a comment by authorID to postID.
func (s *Store) CreateComment(ctx context.Context, authorID, postID, content string) (*Comment, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	now := s.timestamp()
	c := &Comment{ID: ids.New(), PostID: postID, AuthorID: authorID, State: Active{Content: content}, CreatedAt: now, UpdatedAt: now}
	err := s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		if err := put(tx, commentType, c.ID, c); err != nil {
			return err
		}
		if err := tx.Put(commentsOf(postID), c.ID, marker); err != nil {
			return err
		}
		return tx.Put(commentsBy(authorID), c.ID, marker)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetComment returns the comment with id, deleted or not.
func (s *Store) GetComment(ctx context.Context, id string) (*Comment, error) {
	return get[Comment](ctx, s, commentType, id)
}

// ListComments returns the comments of postID, oldest first.
func (s *Store) ListComments(ctx context.Context, postID string) ([]*Comment, error) {
	if _, err := s.GetPost(ctx, postID); err != nil {
		return nil, err
	}
	commentIDs, err := s.children(ctx, commentsOf(postID))
	if err != nil {
		return nil, err
	}
	out := make([]*Comment, 0, len(commentIDs))
	for _, id := range commentIDs {
		c, err := s.GetComment(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateComment replaces the content of a live comment. Deleted comments
// report ErrNotFound.
func (s *Store) UpdateComment(ctx context.Context, by Principal, id, content string) (*Comment, error) {
	c, err := s.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsDeleted(c.State) {
		return nil, ErrNotFound
	}
	if !CanMutate(by, c.AuthorID) {
		return nil, ErrForbidden
	}
	c.State, c.UpdatedAt = Active{Content: content}, s.timestamp()
	if err := s.saveComment(ctx, c); err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// DeleteComment soft-deletes a comment with a tombstone naming who removed
// it. Deleting an already deleted comment returns it unchanged.
func (s *Store) DeleteComment(ctx context.Context, by Principal, id string) (*Comment, error) {
	c, err := s.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanMutate(by, c.AuthorID) {
		return nil, ErrForbidden
	}
	if IsDeleted(c.State) {
		return c, nil
	}
	c.State = retract(by, c.AuthorID, CommentDeletedByUser, CommentDeletedByAdmin)
	c.UpdatedAt = s.timestamp()
	if err := s.saveComment(ctx, c); err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

func (s *Store) saveComment(ctx context.Context, c *Comment) error {
	return s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		// A concurrent cascade may have removed the record since it was read.
		if _, err := tx.Get(commentType, c.ID); err != nil {
			return err
		}
		return put(tx, commentType, c.ID, c)
	})
}

// ---------------------------------------------------------------------------
// Replies
// ---------------------------------------------------------------------------

// CreateReply adds a reply by authorID under a live comment.
func (s *Store) CreateReply(ctx context.Context, authorID, commentID, content string) (*Reply, error) {
	c, err := s.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if IsDeleted(c.State) {
		return nil, ErrNotFound
	}
	now := s.timestamp()
	r := &Reply{ID: ids.New(), PostID: c.PostID, CommentID: c.ID, AuthorID: authorID, State: Active{Content: content}, CreatedAt: now, UpdatedAt: now}
	err = s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		if err := put(tx, replyType, r.ID, r); err != nil {
			return err
		}
		if err := tx.Put(repliesOf(c.ID), r.ID, marker); err != nil {
			return err
		}
		return tx.Put(repliesBy(authorID), r.ID, marker)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetReply returns the reply with id, deleted or not.
func (s *Store) GetReply(ctx context.Context, id string) (*Reply, error) {
	return get[Reply](ctx, s, replyType, id)
}

// ListReplies returns the replies under commentID, oldest first.
func (s *Store) ListReplies(ctx context.Context, commentID string) ([]*Reply, error) {
	if _, err := s.GetComment(ctx, commentID); err != nil {
		return nil, err
	}
	replyIDs, err := s.children(ctx, repliesOf(commentID))
	if err != nil {
		return nil, err
	}
	out := make([]*Reply, 0, len(replyIDs))
	for _, id := range replyIDs {
		r, err := s.GetReply(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// UpdateReply replaces the content of a live reply.
func (s *Store) UpdateReply(ctx context.Context, by Principal, id, content string) (*Reply, error) {
	r, err := s.GetReply(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsDeleted(r.State) {
		return nil, ErrNotFound
	}
	if !CanMutate(by, r.AuthorID) {
		return nil, ErrForbidden
	}
	r.State, r.UpdatedAt = Active{Content: content}, s.timestamp()
	if err := s.saveReply(ctx, r); err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// DeleteReply soft-deletes a reply. Deleting an already deleted reply
// returns it unchanged.
func (s *Store) DeleteReply(ctx context.Context, by Principal, id string) (*Reply, error) {
	r, err := s.GetReply(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanMutate(by, r.AuthorID) {
		return nil, ErrForbidden
	}
	if IsDeleted(r.State) {
		return r, nil
	}
	r.State = retract(by, r.AuthorID, ReplyDeletedByUser, ReplyDeletedByAdmin)
	r.UpdatedAt = s.timestamp()
	if err := s.saveReply(ctx, r); err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *Store) saveReply(ctx context.Context, r *Reply) error {
	return s.repo.Batch(ctx, collection, func(tx storage.BatchTx) error {
		// A concurrent cascade may have removed the record since it was read.
		if _, err := tx.Get(replyType, r.ID); err != nil {
			return err
		}
		return put(tx, replyType, r.ID, r)
	})
}

// ---------------------------------------------------------------------------
// Account removal
// ---------------------------------------------------------------------------

// DeleteAuthorContent removes everything authorID wrote: posts are deleted
// with their threads, comments and replies are soft-deleted so other
// people's replies keep their place. The three sweeps run in parallel; the
// first error is returned after all finish. It is safe to call again after
// a partial failure.
func (s *Store) DeleteAuthorContent(ctx context.Context, authorID string) error {
	owner := Principal{ID: authorID}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		postIDs, err := s.children(ctx, postsBy(authorID))
		if err != nil {
			return err
		}
		for _, id := range postIDs {
			p, err := s.GetPost(ctx, id)
			if errors.Is(err, ErrNotFound) {
				_ = s.repo.Delete(ctx, collection, postsBy(authorID), id)
				continue
			}
			if err != nil {
				return err
			}
			if err := s.removePost(ctx, p); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		commentIDs, err := s.children(ctx, commentsBy(authorID))
		if err != nil {
			return err
		}
		for _, id := range commentIDs {
			if _, err := s.DeleteComment(ctx, owner, id); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		replyIDs, err := s.children(ctx, repliesBy(authorID))
		if err != nil {
			return err
		}
		for _, id := range replyIDs {
			if _, err := s.DeleteReply(ctx, owner, id); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
