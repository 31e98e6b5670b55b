package api

import (
	"time"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/blog"
)

// ErrorResponse is returned for all error cases. Errors carries per-field
// messages for validation and credential failures.
type ErrorResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// SuccessResponse is returned by steps that have nothing else to report.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// UserView is the account of the current user.
type UserView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserView(u *account.User) UserView {
	return UserView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
		CreatedAt: u.CreatedAt,
	}
}

// ProfileView is the public face of a user.
type ProfileView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// UserResponse is returned by login, register and the /user/me routes.
type UserResponse struct {
	Success bool     `json:"success"`
	User    UserView `json:"user"`
}

// SessionResponse is returned from GET /account/session.
type SessionResponse struct {
	Authenticated bool      `json:"authenticated"`
	User          *UserView `json:"user,omitempty"`
}

// LoginRequest is the JSON body for POST /account/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=64"`
}

// EmailRequest is the JSON body for the steps that only name an email.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// RegisterRequest is the JSON body for POST /account/register.
type RegisterRequest struct {
	TokenID  string `json:"tokenId" validate:"required,uuid"`
	Token    string `json:"token" validate:"required,max=256"`
	Username string `json:"username" validate:"required,min=1,max=64"`
	Password string `json:"password" validate:"required,min=8,max=64"`
}

// VerifyCodeRequest is the JSON body for POST /account/verifyCode.
type VerifyCodeRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// PasswordRequest is the JSON body for POST /account/resetPassword.
type PasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=64"`
}

// ChangePasswordRequest is the JSON body for PUT /user/me/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=64"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=64"`
}

// UpdateUserRequest is the JSON body for PUT /user/me.
type UpdateUserRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
}

// PostRequest is the JSON body for creating or updating a post.
type PostRequest struct {
	Title   string `json:"title" validate:"required,max=200"`
	Content string `json:"content" validate:"required,max=100000"`
}

// CreateCommentRequest is the JSON body for POST /blog/comments.
type CreateCommentRequest struct {
	PostID  string `json:"postId" validate:"required"`
	Content string `json:"content" validate:"required,max=10000"`
}

// CreateReplyRequest is the JSON body for POST /blog/replies.
type CreateReplyRequest struct {
	CommentID string `json:"commentId" validate:"required"`
	Content   string `json:"content" validate:"required,max=10000"`
}

// ContentRequest is the JSON body for editing a comment or reply.
type ContentRequest struct {
	Content string `json:"content" validate:"required,max=10000"`
}

// PostResponse wraps a single post.
type PostResponse struct {
	Success bool       `json:"success"`
	Post    *blog.Post `json:"post"`
}

// ListPostsResponse is returned from GET /blog/posts.
type ListPostsResponse struct {
	Posts []*blog.Post `json:"posts"`
	PaginationMeta
}

// CommentResponse wraps a single comment.
type CommentResponse struct {
	Success bool          `json:"success"`
	Comment *blog.Comment `json:"comment"`
}

// ListCommentsResponse is returned from GET /blog/posts/{postID}/comments.
type ListCommentsResponse struct {
	Comments []*blog.Comment `json:"comments"`
}

// ReplyResponse wraps a single reply.
type ReplyResponse struct {
	Success bool        `json:"success"`
	Reply   *blog.Reply `json:"reply"`
}

// ListRepliesResponse is returned from GET /blog/comments/{commentID}/replies.
type ListRepliesResponse struct {
	Replies []*blog.Reply `json:"replies"`
}
