package api_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/inkwell/account"
	"github.com/jmcleod/inkwell/api"
	"github.com/jmcleod/inkwell/blog"
	"github.com/jmcleod/inkwell/csrf"
	"github.com/jmcleod/inkwell/mail"
	"github.com/jmcleod/inkwell/session"
	"github.com/jmcleod/inkwell/storage/memory"
)

type harness struct {
	api      *api.API
	srv      *httptest.Server
	accounts *account.Store
	outbox   *mail.Outbox
}

func setupServer(t *testing.T, opts ...api.Option) *harness {
	t.Helper()
	repo := memory.NewRepository()
	logger := slog.New(slog.DiscardHandler)
	accounts := account.NewStore(repo, account.WithBcryptCost(bcrypt.MinCost))
	codec, err := csrf.NewCodec(bytes.Repeat([]byte("k"), csrf.MinSecretSize))
	require.NoError(t, err)
	outbox := &mail.Outbox{}

	opts = append([]api.Option{
		api.WithLogger(logger),
		api.WithNotices(mail.NewNotices(outbox, "noreply@inkwell.test")),
	}, opts...)
	a := api.New(accounts, blog.NewStore(repo, logger), session.NewMemoryStore(time.Hour), codec, opts...)

	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return &harness{api: a, srv: srv, accounts: accounts, outbox: outbox}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (h *harness) cookie(t *testing.T, client *http.Client, name string) string {
	t.Helper()
	u, err := url.Parse(h.srv.URL)
	require.NoError(t, err)
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// do sends a JSON request. headers are name/value pairs.
func (h *harness) do(t *testing.T, client *http.Client, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, h.srv.URL+path, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// doCSRF sends a request echoing the client's CSRF cookie in the header.
func (h *harness) doCSRF(t *testing.T, client *http.Client, method, path string, body any) *http.Response {
	t.Helper()
	return h.do(t, client, method, path, body, "X-CSRF-TOKEN", h.cookie(t, client, "token"))
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) createUser(t *testing.T, email, password string, admin bool) *account.User {
	t.Helper()
	u, err := h.accounts.CreateUser(t.Context(), account.NewUser{
		Username: email,
		Email:    email,
		Password: password,
		IsAdmin:  admin,
	})
	require.NoError(t, err)
	return u
}

func (h *harness) login(t *testing.T, email, password string) *http.Client {
	t.Helper()
	client := newClient(t)
	resp := h.do(t, client, http.MethodPost, "/account/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return client
}

var csrfTokenPattern = regexp.MustCompile(`^[\w]+\.[\w]+$`)

func TestLoginStartsSession(t *testing.T) {
	h := setupServer(t)
	u := h.createUser(t, "alice@example.com", "correct horse", false)
	client := newClient(t)

	resp := h.do(t, client, http.MethodPost, "/account/login", map[string]string{
		"email": "Alice@Example.com", "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	body := decode[api.UserResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, u.ID, body.User.ID)

	var sid, token *http.Cookie
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "sid":
			sid = c
		case "token":
			token = c
		}
	}
	require.NotNil(t, sid)
	require.NotNil(t, token)
	assert.True(t, sid.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, sid.SameSite)
	assert.False(t, token.HttpOnly, "the client must be able to read the CSRF token")
	assert.Regexp(t, csrfTokenPattern, token.Value)

	resp = h.do(t, client, http.MethodGet, "/account/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[api.SessionResponse](t, resp)
	assert.True(t, info.Authenticated)
	require.NotNil(t, info.User)
	assert.Equal(t, "alice@example.com", info.User.Email)
}

func TestLoginFieldErrors(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	client := newClient(t)

	resp := h.do(t, client, http.MethodPost, "/account/login", map[string]string{"email": "nobody@example.com", "password": "x"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errBody := decode[api.ErrorResponse](t, resp)
	assert.Contains(t, errBody.Errors, "email")

	resp = h.do(t, client, http.MethodPost, "/account/login", map[string]string{"email": "alice@example.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errBody = decode[api.ErrorResponse](t, resp)
	assert.Contains(t, errBody.Errors, "password")

	resp = h.do(t, client, http.MethodPost, "/account/login", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody = decode[api.ErrorResponse](t, resp)
	assert.False(t, errBody.Success)
	assert.Contains(t, errBody.Errors, "email")
	assert.Contains(t, errBody.Errors, "password")
}

func TestLoginLockoutRefusesCorrectPassword(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	client := newClient(t)

	for range api.LoginLimit.Points {
		resp := h.do(t, client, http.MethodPost, "/account/login", map[string]string{"email": "alice@example.com", "password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp := h.do(t, client, http.MethodPost, "/account/login", map[string]string{"email": "alice@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Empty(t, h.cookie(t, client, "sid"))
}

func TestLogoutRequiresAuthAndCSRF(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)

	resp := h.do(t, newClient(t), http.MethodPost, "/account/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	client := h.login(t, "alice@example.com", "correct horse")

	resp = h.do(t, client, http.MethodPost, "/account/logout", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Invalid CSRF header.", decode[api.ErrorResponse](t, resp).Message)

	resp = h.do(t, client, http.MethodPost, "/account/logout", nil, "X-CSRF-TOKEN", "abcd.ef01")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "CSRF token mismatch.", decode[api.ErrorResponse](t, resp).Message)

	resp = h.doCSRF(t, client, http.MethodPost, "/account/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, client, http.MethodGet, "/account/session", nil)
	assert.False(t, decode[api.SessionResponse](t, resp).Authenticated)
}

var (
	tokenIDPattern = regexp.MustCompile(`Token ID: (\S+)`)
	tokenPattern   = regexp.MustCompile(`Token:\s+(\S+)`)
	codePattern    = regexp.MustCompile(`\b(\d{6})\b`)
)

func TestRegistrationFlow(t *testing.T) {
	h := setupServer(t)
	client := newClient(t)
	register := map[string]string{
		"tokenId":  "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"token":    "whatever",
		"username": "ada",
		"password": "analytical",
	}

	resp := h.do(t, client, http.MethodPost, "/account/register", register)
	require.Equal(t, http.StatusPreconditionRequired, resp.StatusCode, "register before requestRegister")

	resp = h.do(t, client, http.MethodPost, "/account/requestRegister", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := h.outbox.To("ada@example.com")
	require.Len(t, msgs, 1)
	assert.Equal(t, mail.KindRegistrationToken, msgs[0].Kind)
	tokenID := tokenIDPattern.FindStringSubmatch(msgs[0].Text)[1]
	token := tokenPattern.FindStringSubmatch(msgs[0].Text)[1]

	register["tokenId"] = tokenID
	resp = h.do(t, client, http.MethodPost, "/account/register", register)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, decode[api.ErrorResponse](t, resp).Errors, "token")

	register["token"] = token
	register["password"] = "short"
	resp = h.do(t, client, http.MethodPost, "/account/register", register)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[api.ErrorResponse](t, resp).Errors, "password")

	register["password"] = "analytical"
	resp = h.do(t, client, http.MethodPost, "/account/register", register)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decode[api.UserResponse](t, resp).User
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "ada@example.com", user.Email)

	h.login(t, "ada@example.com", "analytical")

	// A second request for a registered address gets a notice, not a token.
	resp = h.do(t, client, http.MethodPost, "/account/requestRegister", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs = h.outbox.To("ada@example.com")
	require.Len(t, msgs, 2)
	assert.Equal(t, mail.KindAlreadyRegistered, msgs[1].Kind)
}

func TestRegisterAttemptsAreLimited(t *testing.T) {
	h := setupServer(t)
	client := newClient(t)

	resp := h.do(t, client, http.MethodPost, "/account/requestRegister", map[string]string{"email": "ada@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tokenID := tokenIDPattern.FindStringSubmatch(h.outbox.Messages()[0].Text)[1]

	bad := map[string]string{"tokenId": tokenID, "token": "nope", "username": "ada", "password": "analytical"}
	for range api.RegisterAttemptLimit.Points {
		resp = h.do(t, client, http.MethodPost, "/account/register", bad)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp = h.do(t, client, http.MethodPost, "/account/register", bad)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func requestReset(t *testing.T, h *harness, client *http.Client, email string) {
	t.Helper()
	resp := h.do(t, client, http.MethodPost, "/account/requestResetPassword", map[string]string{"email": email})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func lastCode(t *testing.T, h *harness, email string) string {
	t.Helper()
	msgs := h.outbox.To(email)
	require.NotEmpty(t, msgs)
	m := codePattern.FindStringSubmatch(msgs[len(msgs)-1].Text)
	require.NotNil(t, m)
	return m[1]
}

func TestRequestResetPasswordDoesNotRevealAccounts(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	client := newClient(t)

	requestReset(t, h, client, "nobody@example.com")
	assert.Empty(t, h.outbox.Messages())

	requestReset(t, h, client, "alice@example.com")
	msgs := h.outbox.To("alice@example.com")
	require.Len(t, msgs, 1)
	assert.Equal(t, mail.KindResetCode, msgs[0].Kind)
	ok, err := h.accounts.HasResetCode(t.Context(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetPasswordFlow(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	other := h.login(t, "alice@example.com", "correct horse")
	client := newClient(t)

	resp := h.do(t, client, http.MethodPost, "/account/verifyCode", map[string]string{"email": "alice@example.com", "code": "123456"})
	require.Equal(t, http.StatusPreconditionRequired, resp.StatusCode, "verifyCode before a reset request")
	resp = h.do(t, client, http.MethodPost, "/account/resetPassword", map[string]string{"password": "battery staple"})
	require.Equal(t, http.StatusPreconditionRequired, resp.StatusCode, "resetPassword without a reset session")

	requestReset(t, h, client, "alice@example.com")
	code := lastCode(t, h, "alice@example.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	resp = h.do(t, client, http.MethodPost, "/account/verifyCode", map[string]string{"email": "alice@example.com", "code": wrong})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.do(t, client, http.MethodPost, "/account/verifyCode", map[string]string{"email": "alice@example.com", "code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "900", resp.Header.Get("Expire-After"))
	assert.Regexp(t, csrfTokenPattern, h.cookie(t, client, "token"))

	// CSRF is checked before the body is validated.
	resp = h.do(t, client, http.MethodPost, "/account/resetPassword", map[string]string{"password": "x"}, "X-CSRF-TOKEN", "bogus")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.doCSRF(t, client, http.MethodPost, "/account/resetPassword", map[string]string{"password": "x"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.doCSRF(t, client, http.MethodPost, "/account/resetPassword", map[string]string{"password": "battery staple"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, other, http.MethodGet, "/account/session", nil)
	assert.False(t, decode[api.SessionResponse](t, resp).Authenticated, "existing sessions are revoked")

	h.login(t, "alice@example.com", "battery staple")
	resp = h.do(t, newClient(t), http.MethodPost, "/account/login", map[string]string{"email": "alice@example.com", "password": "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResetPasswordAfterExhaustedVerification(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	client := newClient(t)

	requestReset(t, h, client, "alice@example.com")
	code := lastCode(t, h, "alice@example.com")
	resp := h.do(t, client, http.MethodPost, "/account/verifyCode", map[string]string{"email": "alice@example.com", "code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The code is spent; trying it again blocks further verification.
	resp = h.do(t, client, http.MethodPost, "/account/verifyCode", map[string]string{"email": "alice@example.com", "code": code})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = h.doCSRF(t, client, http.MethodPost, "/account/resetPassword", map[string]string{"password": "battery staple"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestVerifyCodeAttemptsAreLimited(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	client := newClient(t)

	requestReset(t, h, client, "alice@example.com")
	code := lastCode(t, h, "alice@example.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for range api.VerifyCodeLimit.Points {
		resp := h.do(t, client, http.MethodPost, "/account/verifyCode", map[string]string{"email": "alice@example.com", "code": wrong})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := h.do(t, client, http.MethodPost, "/account/verifyCode", map[string]string{"email": "alice@example.com", "code": code})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestPostLifecycle(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	h.createUser(t, "bob@example.com", "correct horse", false)
	alice := h.login(t, "alice@example.com", "correct horse")
	bob := h.login(t, "bob@example.com", "correct horse")

	resp := h.do(t, alice, http.MethodPost, "/blog/posts", map[string]string{"title": "Hello", "content": "World"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, "mutations need the CSRF header")

	resp = h.doCSRF(t, alice, http.MethodPost, "/blog/posts", map[string]string{"title": "Hello", "content": "World"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	post := decode[api.PostResponse](t, resp).Post

	resp = h.do(t, newClient(t), http.MethodGet, "/blog/posts/"+post.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "World", decode[api.PostResponse](t, resp).Post.Content)

	resp = h.doCSRF(t, bob, http.MethodPut, "/blog/posts/"+post.ID, map[string]string{"title": "Mine", "content": "now"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.doCSRF(t, alice, http.MethodPut, "/blog/posts/"+post.ID, map[string]string{"title": "Hello", "content": "again"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "again", decode[api.PostResponse](t, resp).Post.Content)

	resp = h.do(t, newClient(t), http.MethodGet, "/blog/posts?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[api.ListPostsResponse](t, resp)
	assert.Equal(t, 1, list.TotalCount)
	assert.False(t, list.HasMore)
	require.Len(t, list.Posts, 1)

	resp = h.doCSRF(t, alice, http.MethodDelete, "/blog/posts/"+post.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = h.do(t, alice, http.MethodGet, "/blog/posts/"+post.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommentTombstones(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	h.createUser(t, "bob@example.com", "correct horse", false)
	h.createUser(t, "admin@example.com", "correct horse", true)
	alice := h.login(t, "alice@example.com", "correct horse")
	bob := h.login(t, "bob@example.com", "correct horse")
	admin := h.login(t, "admin@example.com", "correct horse")

	resp := h.doCSRF(t, alice, http.MethodPost, "/blog/posts", map[string]string{"title": "Hello", "content": "World"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	postID := decode[api.PostResponse](t, resp).Post.ID

	comment := func(client *http.Client, content string) *blog.Comment {
		resp := h.doCSRF(t, client, http.MethodPost, "/blog/comments", map[string]string{"postId": postID, "content": content})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		return decode[api.CommentResponse](t, resp).Comment
	}
	mine, theirs := comment(alice, "first"), comment(bob, "second")

	resp = h.doCSRF(t, bob, http.MethodDelete, "/blog/comments/"+mine.ID, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.doCSRF(t, alice, http.MethodDelete, "/blog/comments/"+mine.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, blog.CommentDeletedByUser, blog.Text(decode[api.CommentResponse](t, resp).Comment.State))

	resp = h.doCSRF(t, alice, http.MethodDelete, "/blog/comments/"+mine.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "deleting twice is idempotent")

	resp = h.doCSRF(t, alice, http.MethodPut, "/blog/comments/"+mine.ID, map[string]string{"content": "back"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.doCSRF(t, admin, http.MethodDelete, "/blog/comments/"+theirs.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, blog.CommentDeletedByAdmin, blog.Text(decode[api.CommentResponse](t, resp).Comment.State))

	resp = h.do(t, newClient(t), http.MethodGet, "/blog/posts/"+postID+"/comments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	comments := decode[api.ListCommentsResponse](t, resp).Comments
	require.Len(t, comments, 2)
	assert.True(t, blog.IsDeleted(comments[0].State))
	assert.True(t, blog.IsDeleted(comments[1].State))
}

func TestRepliesFollowComments(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	alice := h.login(t, "alice@example.com", "correct horse")

	resp := h.doCSRF(t, alice, http.MethodPost, "/blog/posts", map[string]string{"title": "Hello", "content": "World"})
	postID := decode[api.PostResponse](t, resp).Post.ID
	resp = h.doCSRF(t, alice, http.MethodPost, "/blog/comments", map[string]string{"postId": postID, "content": "first"})
	commentID := decode[api.CommentResponse](t, resp).Comment.ID

	resp = h.doCSRF(t, alice, http.MethodPost, "/blog/replies", map[string]string{"commentId": commentID, "content": "re"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reply := decode[api.ReplyResponse](t, resp).Reply
	assert.Equal(t, postID, reply.PostID)

	resp = h.doCSRF(t, alice, http.MethodPut, "/blog/replies/"+reply.ID, map[string]string{"content": "edited"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.doCSRF(t, alice, http.MethodDelete, "/blog/replies/"+reply.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, blog.ReplyDeletedByUser, blog.Text(decode[api.ReplyResponse](t, resp).Reply.State))

	resp = h.do(t, alice, http.MethodGet, "/blog/comments/"+commentID+"/replies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[api.ListRepliesResponse](t, resp).Replies, 1)

	resp = h.doCSRF(t, alice, http.MethodPost, "/blog/replies", map[string]string{"commentId": "missing", "content": "re"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	first := h.login(t, "alice@example.com", "correct horse")
	second := h.login(t, "alice@example.com", "correct horse")

	resp := h.doCSRF(t, first, http.MethodPut, "/user/me/password", map[string]string{
		"currentPassword": "wrong", "newPassword": "battery staple",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, decode[api.ErrorResponse](t, resp).Errors, "currentPassword")

	resp = h.doCSRF(t, first, http.MethodPut, "/user/me/password", map[string]string{
		"currentPassword": "correct horse", "newPassword": "battery staple",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, first, http.MethodGet, "/user/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "the caller keeps a fresh session")
	resp = h.do(t, second, http.MethodGet, "/user/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUserProfileAndRename(t *testing.T) {
	h := setupServer(t)
	u := h.createUser(t, "alice@example.com", "correct horse", false)
	alice := h.login(t, "alice@example.com", "correct horse")

	resp := h.doCSRF(t, alice, http.MethodPut, "/user/me", map[string]string{"username": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", decode[api.UserResponse](t, resp).User.Username)

	resp = h.do(t, newClient(t), http.MethodGet, "/user/"+u.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile map[string]map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&profile))
	assert.Equal(t, "alice", profile["user"]["username"])
	assert.NotContains(t, profile["user"], "email")

	resp = h.do(t, newClient(t), http.MethodGet, "/user/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteAccountCascades(t *testing.T) {
	h := setupServer(t)
	alice := h.createUser(t, "alice@example.com", "correct horse", false)
	h.createUser(t, "bob@example.com", "correct horse", false)
	aliceClient := h.login(t, "alice@example.com", "correct horse")
	bobClient := h.login(t, "bob@example.com", "correct horse")

	resp := h.doCSRF(t, aliceClient, http.MethodPost, "/blog/posts", map[string]string{"title": "Hello", "content": "World"})
	postID := decode[api.PostResponse](t, resp).Post.ID

	resp = h.doCSRF(t, bobClient, http.MethodDelete, "/user/"+alice.ID, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.doCSRF(t, aliceClient, http.MethodDelete, "/user/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, bobClient, http.MethodGet, "/blog/posts/"+postID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = h.do(t, aliceClient, http.MethodGet, "/account/session", nil)
	assert.False(t, decode[api.SessionResponse](t, resp).Authenticated)
	resp = h.do(t, newClient(t), http.MethodPost, "/account/login", map[string]string{"email": "alice@example.com", "password": "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminDeletesUser(t *testing.T) {
	h := setupServer(t)
	bob := h.createUser(t, "bob@example.com", "correct horse", false)
	h.createUser(t, "admin@example.com", "correct horse", true)
	bobClient := h.login(t, "bob@example.com", "correct horse")
	admin := h.login(t, "admin@example.com", "correct horse")

	resp := h.doCSRF(t, admin, http.MethodDelete, "/user/"+bob.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, bobClient, http.MethodGet, "/user/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = h.do(t, admin, http.MethodGet, "/user/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsCountAuditEvents(t *testing.T) {
	h := setupServer(t)
	h.createUser(t, "alice@example.com", "correct horse", false)
	h.login(t, "alice@example.com", "correct horse")

	resp := h.do(t, newClient(t), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `inkwell_audit_events_total{event="login_success"} 1`)
}

func TestAuditWebhookReceivesEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []map[string]any
	)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev map[string]any
		if json.NewDecoder(r.Body).Decode(&ev) == nil {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer collector.Close()

	h := setupServer(t, api.WithAuditWebhook(collector.URL, ""))
	h.createUser(t, "alice@example.com", "correct horse", false)
	h.login(t, "alice@example.com", "correct horse")
	h.api.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "login_success", events[0]["event"])
	assert.NotEmpty(t, events[0]["accountId"])
}
