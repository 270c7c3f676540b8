package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cartzy_auth/internal/db/dbtest"
	"github.com/Skotchmaster/cartzy_auth/internal/hash"
	"github.com/Skotchmaster/cartzy_auth/internal/logging"
	authmw "github.com/Skotchmaster/cartzy_auth/internal/middleware/auth"
	"github.com/Skotchmaster/cartzy_auth/internal/models"
	"github.com/Skotchmaster/cartzy_auth/internal/mykafka"
	"github.com/Skotchmaster/cartzy_auth/internal/repo"
	"github.com/Skotchmaster/cartzy_auth/internal/service"
	"github.com/Skotchmaster/cartzy_auth/internal/tokens"
)

type recordingNotifier struct {
	mu     sync.Mutex
	bodies []string
	to     []string
}

func (n *recordingNotifier) Send(_ context.Context, to, _, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.to = append(n.to, to)
	n.bodies = append(n.bodies, body)
	return nil
}

type testServer struct {
	e        *echo.Echo
	db       *gorm.DB
	repo     *repo.GormRepo
	tokens   *tokens.Manager
	notifier *recordingNotifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	gdb := dbtest.New(t)
	r := repo.New(gdb)
	tm, err := tokens.NewManager(tokens.Config{
		AccessSecret:  []byte("http-test-access-secret"),
		RefreshSecret: []byte("http-test-refresh-secret"),
	})
	require.NoError(t, err)

	n := &recordingNotifier{}
	svc := &service.AuthService{
		Repo:        r,
		Hasher:      &hash.Hasher{Cost: bcrypt.MinCost},
		Tokens:      tm,
		Notifier:    n,
		Events:      mykafka.Nop{},
		FrontendURL: "https://shop.example.com",
	}

	e := NewEcho(logging.NewWithWriter(io.Discard, "error"))
	Register(e, &Deps{
		DB:           gdb,
		AuthHandler:  &AuthHTTP{Svc: svc, Cookies: CookieConfig{Secure: true, MaxAge: tm.RefreshTTL()}},
		UsersHandler: &UsersHTTP{Svc: svc},
		Guard:        &authmw.Guard{Tokens: tm, Users: r},
	})

	return &testServer{e: e, db: gdb, repo: r, tokens: tm, notifier: n}
}

type reqOpt func(*http.Request)

func withBearer(tok string) reqOpt {
	return func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+tok) }
}

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func (s *testServer) do(t *testing.T, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func accessToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var data struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	require.NotEmpty(t, data.AccessToken)
	return data.AccessToken
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", refreshCookieName)
	return nil
}

var registerBody = map[string]string{
	"firstName": "Jane",
	"lastName":  "Doe",
	"userName":  "jdoe",
	"email":     "jane@example.com",
	"password":  "password123",
}

func (s *testServer) register(t *testing.T) (string, *http.Cookie) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return accessToken(t, rec), refreshCookie(t, rec)
}

func TestRegister_EnvelopeAndCookie(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", registerBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	env := decode(t, rec)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "User created successfully", env.Message)

	access := accessToken(t, rec)
	c := refreshCookie(t, rec)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int((14 * 24 * time.Hour).Seconds()), c.MaxAge)

	ctx := context.Background()
	assert.NotNil(t, tokens.Verify(ctx, access, s.tokens.AccessSecret()))
	assert.Nil(t, tokens.Verify(ctx, access, s.tokens.RefreshSecret()))
	assert.NotNil(t, tokens.Verify(ctx, c.Value, s.tokens.RefreshSecret()))
	assert.Nil(t, tokens.Verify(ctx, c.Value, s.tokens.AccessSecret()))

	assert.NotContains(t, rec.Body.String(), c.Value)
}

func TestRegister_Conflicts(t *testing.T) {
	s := newTestServer(t)
	s.register(t)

	sameEmail := map[string]string{}
	for k, v := range registerBody {
		sameEmail[k] = v
	}
	sameEmail["userName"] = "someone-else"
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", sameEmail)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "fail", env.Status)
	assert.Equal(t, "Email already registered", env.Message)

	sameName := map[string]string{}
	for k, v := range registerBody {
		sameName[k] = v
	}
	sameName["email"] = "other@example.com"
	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", sameName)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Username already taken", decode(t, rec).Message)
}

func TestRegister_ValidationDetails(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"firstName": "J",
		"email":     "bad",
		"password":  "short",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env := decode(t, rec)
	assert.Equal(t, "fail", env.Status)
	assert.Equal(t, "Validation failed", env.Message)

	var details map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &details))
	assert.Contains(t, details, "firstName")
	assert.Contains(t, details, "lastName")
	assert.Contains(t, details, "userName")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "password")
}

func TestRegister_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode(t, rec).Message)
}

func TestLogin_FailureBodiesAreIdentical(t *testing.T) {
	s := newTestServer(t)
	s.register(t)

	wrongPass := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@example.com", "password": "wrong-password",
	})
	unknown := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "nobody@example.com", "password": "wrong-password",
	})

	assert.Equal(t, http.StatusBadRequest, wrongPass.Code)
	assert.Equal(t, wrongPass.Code, unknown.Code)
	assert.Equal(t, wrongPass.Body.Bytes(), unknown.Body.Bytes())
	assert.Equal(t, "Invalid email or password", decode(t, wrongPass).Message)
}

func TestLogin_Success(t *testing.T) {
	s := newTestServer(t)
	s.register(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", decode(t, rec).Status)

	access := accessToken(t, rec)
	c := refreshCookie(t, rec)
	assert.NotNil(t, s.tokens.VerifyAccess(context.Background(), access))
	assert.NotNil(t, s.tokens.VerifyRefresh(context.Background(), c.Value))
}

func TestRefresh_RotationRejectsPreviousToken(t *testing.T) {
	s := newTestServer(t)
	_, first := s.register(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", nil, withCookie(first))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accessToken(t, rec)
	second := refreshCookie(t, rec)
	assert.NotEqual(t, first.Value, second.Value)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", nil, withCookie(first))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "fail", decode(t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", nil, withCookie(second))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_CookieOnly(t *testing.T) {
	s := newTestServer(t)
	_, c := s.register(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": c.Value})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Refresh token is required", decode(t, rec).Message)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", nil,
		withCookie(&http.Cookie{Name: refreshCookieName, Value: "garbage"}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_ThenRefreshFails(t *testing.T) {
	s := newTestServer(t)
	access, c := s.register(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, withBearer(access), withCookie(c))
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "success", env.Status)
	assert.Empty(t, env.Data)

	cleared := refreshCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", nil, withCookie(c))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLogout_WithoutCookieSucceeds(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.register(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, withBearer(access))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, withBearer(access),
		withCookie(&http.Cookie{Name: refreshCookieName, Value: "garbage"}))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtect_StatusCodes(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.register(t)

	rec := s.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set(echo.HeaderAuthorization, "Token "+access)
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	u, err := s.repo.FindByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	old, err := s.tokens.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).IssueAccess(u.ID.String())
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, withBearer(old.Value))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.User
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &me))
	assert.Equal(t, "jdoe", me.UserName)
	assert.NotContains(t, rec.Body.String(), "password")

	require.NoError(t, s.db.Delete(&models.User{}, "id = ?", u.ID).Error)
	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, withBearer(access))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "User no longer exists", decode(t, rec).Message)
}

func TestAuthorizeTo_AdminRoute(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.register(t)

	u, err := s.repo.FindByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	path := "/api/v1/users/" + u.ID.String()

	rec := s.do(t, http.MethodGet, path, nil, withBearer(access))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", decode(t, rec).Message)

	require.NoError(t, s.repo.UpdateByID(context.Background(), u.ID, map[string]any{models.ColRole: models.RoleAdmin}))
	rec = s.do(t, http.MethodGet, path, nil, withBearer(access))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/users/not-a-uuid", nil, withBearer(access))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/users?page=1&size=5", nil, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []models.User `json:"items"`
		Total int64         `json:"total"`
		Size  int           `json:"size"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &page))
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, 5, page.Size)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "jdoe", page.Items[0].UserName)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "User not found", env.Message)
	assert.Empty(t, s.notifier.bodies)
}

func TestForgotPassword_MissingEmail(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForgotAndResetPassword(t *testing.T) {
	s := newTestServer(t)
	s.register(t)

	before := time.Now()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "jane@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "success", env.Status)
	assert.Empty(t, env.Data)

	require.Len(t, s.notifier.bodies, 1)
	assert.Equal(t, "jane@example.com", s.notifier.to[0])

	body := s.notifier.bodies[0]
	i := strings.Index(body, "token=")
	require.GreaterOrEqual(t, i, 0)
	rest := body[i+len("token="):]
	tok, err := url.QueryUnescape(rest[:strings.IndexAny(rest, `"<`)])
	require.NoError(t, err)
	assert.Contains(t, body, "https://shop.example.com/reset-password?token=")
	assert.NotContains(t, rec.Body.String(), tok)

	u, err := s.repo.FindByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	require.NotNil(t, u.ResetToken)
	assert.Equal(t, tokens.Digest(tok), *u.ResetToken)
	require.NotNil(t, u.ResetTokenExpiresAt)
	assert.WithinDuration(t, before.Add(time.Hour), *u.ResetTokenExpiresAt, 5*time.Second)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": tok, "password": "brand-new-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "jane@example.com", "password": "brand-new-pass",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": tok, "password": "brand-new-pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", nil).Code)
}

func TestUnknownRoute_UsesEnvelope(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decode(t, rec)
	assert.Equal(t, "error", env.Status)
	assert.NotEmpty(t, env.Message)
}
