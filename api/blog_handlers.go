package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListPosts handles GET /blog/posts.
func (a *API) ListPosts(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	posts, total, err := a.blog.ListPosts(r.Context(), limit, offset)
	if err != nil {
		writeInternalError(w, "listing posts", err)
		return
	}
	writeJSON(w, http.StatusOK, ListPostsResponse{
		Posts:          posts,
		PaginationMeta: pageMeta(total, limit, offset),
	})
}

// GetPost handles GET /blog/posts/{postID}.
func (a *API) GetPost(w http.ResponseWriter, r *http.Request) {
	p, err := a.blog.GetPost(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PostResponse{Success: true, Post: p})
}

// CreatePost handles POST /blog/posts.
func (a *API) CreatePost(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PostRequest](w, r, maxContentBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	p, err := a.blog.CreatePost(r.Context(), fromContext(r.Context()).actor().ID, req.Title, req.Content)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PostResponse{Success: true, Post: p})
}

// UpdatePost handles PUT /blog/posts/{postID}.
func (a *API) UpdatePost(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PostRequest](w, r, maxContentBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	p, err := a.blog.UpdatePost(r.Context(), fromContext(r.Context()).actor(),
		chi.URLParam(r, "postID"), req.Title, req.Content)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PostResponse{Success: true, Post: p})
}

// DeletePost handles DELETE /blog/posts/{postID}.
func (a *API) DeletePost(w http.ResponseWriter, r *http.Request) {
	by := fromContext(r.Context()).actor()
	id := chi.URLParam(r, "postID")
	if err := a.blog.DeletePost(r.Context(), by, id); err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditPostDeleted, r, by.ID, slog.String("post_id", id))
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// ListComments handles GET /blog/posts/{postID}/comments.
func (a *API) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := a.blog.ListComments(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListCommentsResponse{Comments: comments})
}

// CreateComment handles POST /blog/comments.
func (a *API) CreateComment(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateCommentRequest](w, r, maxContentBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	c, err := a.blog.CreateComment(r.Context(), fromContext(r.Context()).actor().ID, req.PostID, req.Content)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CommentResponse{Success: true, Comment: c})
}

// UpdateComment handles PUT /blog/comments/{commentID}.
func (a *API) UpdateComment(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ContentRequest](w, r, maxContentBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	c, err := a.blog.UpdateComment(r.Context(), fromContext(r.Context()).actor(),
		chi.URLParam(r, "commentID"), req.Content)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommentResponse{Success: true, Comment: c})
}

// DeleteComment handles DELETE /blog/comments/{commentID}. The comment stays
// in its thread with a tombstone in place of the content.
func (a *API) DeleteComment(w http.ResponseWriter, r *http.Request) {
	by := fromContext(r.Context()).actor()
	c, err := a.blog.DeleteComment(r.Context(), by, chi.URLParam(r, "commentID"))
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditCommentDeleted, r, by.ID, slog.String("comment_id", c.ID))
	writeJSON(w, http.StatusOK, CommentResponse{Success: true, Comment: c})
}

// ListReplies handles GET /blog/comments/{commentID}/replies.
func (a *API) ListReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := a.blog.ListReplies(r.Context(), chi.URLParam(r, "commentID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRepliesResponse{Replies: replies})
}

// CreateReply handles POST /blog/replies.
func (a *API) CreateReply(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CreateReplyRequest](w, r, maxContentBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	rep, err := a.blog.CreateReply(r.Context(), fromContext(r.Context()).actor().ID, req.CommentID, req.Content)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReplyResponse{Success: true, Reply: rep})
}

// UpdateReply handles PUT /blog/replies/{replyID}.
func (a *API) UpdateReply(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[ContentRequest](w, r, maxContentBodySize)
	if !ok || !validateRequest(w, req) {
		return
	}
	rep, err := a.blog.UpdateReply(r.Context(), fromContext(r.Context()).actor(),
		chi.URLParam(r, "replyID"), req.Content)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReplyResponse{Success: true, Reply: rep})
}

// DeleteReply handles DELETE /blog/replies/{replyID}.
func (a *API) DeleteReply(w http.ResponseWriter, r *http.Request) {
	by := fromContext(r.Context()).actor()
	rep, err := a.blog.DeleteReply(r.Context(), by, chi.URLParam(r, "replyID"))
	if err != nil {
		mapError(w, err)
		return
	}
	a.audit.logEvent(AuditReplyDeleted, r, by.ID, slog.String("reply_id", rep.ID))
	writeJSON(w, http.StatusOK, ReplyResponse{Success: true, Reply: rep})
}
