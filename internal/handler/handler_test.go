package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finance_service/internal/auth"
	"finance_service/internal/service"
	"finance_service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef"

type testServer struct {
	router *gin.Engine
	st     *storage.MemoryStorage
	codec  *auth.TokenCodec
}

func newTestServer(t *testing.T, debugRoutes bool, opts ...GateOption) *testServer {
	t.Helper()

	gin.SetMode(gin.TestMode)

	lgr := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec, err := auth.NewTokenCodec(testSecret, 5*time.Minute)
	require.NoError(t, err)

	st := storage.NewMemoryStorage()
	revocations := auth.NewRevocationStore(st, codec)
	resolver := auth.NewResolver(codec, revocations, st, lgr)
	srvc := service.NewService(st, codec, revocations, lgr)

	if debugRoutes {
		opts = append(opts, WithDebugExemption())
	}
	gate := NewGate(resolver, lgr, opts...)
	h := NewHandler(srvc, gate, codec, debugRoutes, lgr)

	return &testServer{
		router: h.InitRoutes(),
		st:     st,
		codec:  codec,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	return w
}

// signup registers and logs in a user, returning its id and token.
func (s *testServer) signup(t *testing.T, email string) (int64, string) {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/users/register", "", gin.H{
		"userName":     "Test User",
		"userEmail":    email,
		"userPassword": "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/users/login", "", gin.H{
		"userEmail":    email,
		"userPassword": "secret1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		User struct {
			ID int64 `json:"userId"`
		} `json:"user"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	return resp.User.ID, resp.Token
}

func userPath(id int64) string {
	return fmt.Sprintf("/api/users/%d", id)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/users/register", "", gin.H{
		"userName":     "A",
		"userEmail":    "not-an-email",
		"userPassword": "123",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "userEmail")

	s.signup(t, "dup@example.com")
	w = s.do(t, http.MethodPost, "/api/users/register", "", gin.H{
		"userName":     "Again",
		"userEmail":    "dup@example.com",
		"userPassword": "secret1",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterResponseHidesPassword(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/users/register", "", gin.H{
		"userName":     "Ana",
		"userEmail":    "ana@example.com",
		"userPassword": "secret1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "secret1")
	assert.NotContains(t, w.Body.String(), "$2a$")
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t, false)
	s.signup(t, "ana@example.com")

	w := s.do(t, http.MethodPost, "/api/users/login", "", gin.H{
		"userEmail":    "ana@example.com",
		"userPassword": "nope",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginThenAccess(t *testing.T) {
	s := newTestServer(t, false)
	id, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodGet, userPath(id), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "owner@example.com")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestAccessPolicyForbidsOtherUsers(t *testing.T) {
	s := newTestServer(t, false)
	id, _ := s.signup(t, "owner@example.com")
	_, otherToken := s.signup(t, "other@example.com")

	w := s.do(t, http.MethodGet, userPath(id), otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodDelete, userPath(id), otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, err := s.st.GetUserByID(context.Background(), id)
	require.NoError(t, err, "forbidden delete must have no side effect")

	w = s.do(t, http.MethodGet, userPath(id), "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogoutThenReuse(t *testing.T) {
	s := newTestServer(t, false)
	id, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodPost, "/api/users/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, userPath(id), token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), "revoked")
}

func TestRevokedTokenRejectedInLegacyMode(t *testing.T) {
	s := newTestServer(t, false, WithLegacyRejection())
	id, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodPost, "/api/users/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, userPath(id), token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvalidTokenRejectedAtGate(t *testing.T) {
	s := newTestServer(t, false)
	id, _ := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodGet, userPath(id), "garbage.token.value", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvalidTokenFallsThroughInLegacyMode(t *testing.T) {
	s := newTestServer(t, false, WithLegacyRejection())
	id, _ := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodGet, userPath(id), "garbage.token.value", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeletedAccountTokenRejected(t *testing.T) {
	s := newTestServer(t, false)
	id, token := s.signup(t, "owner@example.com")

	require.NoError(t, s.st.SoftDeleteUser(context.Background(), id))

	w := s.do(t, http.MethodGet, userPath(id), token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeleteAccountRevokesToken(t *testing.T) {
	s := newTestServer(t, false)
	id, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodDelete, userPath(id), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	revoked, err := s.st.IsTokenRevoked(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, revoked)

	w = s.do(t, http.MethodPost, "/api/users/login", "", gin.H{
		"userEmail":    "owner@example.com",
		"userPassword": "secret1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdatePasswordFlow(t *testing.T) {
	s := newTestServer(t, false)
	id, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodPut, userPath(id)+"/password", token, gin.H{"currentPassword": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, userPath(id)+"/password", token, gin.H{
		"currentPassword": "wrong",
		"newPassword":     "secret2",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPut, userPath(id)+"/password", token, gin.H{
		"currentPassword": "secret1",
		"newPassword":     "secret2",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t, false)
	id, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodPut, userPath(id)+"/profile", token, gin.H{"userName": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Renamed")
}

func TestInvalidPathUserID(t *testing.T) {
	s := newTestServer(t, false)
	_, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodGet, "/api/users/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExemptPathsSkipResolution(t *testing.T) {
	s := newTestServer(t, false)
	_, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodPost, "/api/users/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// A revoked token must not block public endpoints.
	w = s.do(t, http.MethodPost, "/api/users/login", token, gin.H{
		"userEmail":    "owner@example.com",
		"userPassword": "secret1",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/uploads/avatar.jpg", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/anything", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGateIsExempt(t *testing.T) {
	g := NewGate(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.True(t, g.IsExempt("/api/users/register"))
	assert.True(t, g.IsExempt("/api/users/login"))
	assert.True(t, g.IsExempt("/error"))
	assert.True(t, g.IsExempt("/uploads/a/b.png"))
	assert.False(t, g.IsExempt("/api/users/logout"))
	assert.False(t, g.IsExempt("/api/users/login/extra"))
	assert.False(t, g.IsExempt("/api/debug/token"))

	dg := NewGate(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), WithDebugExemption())
	assert.True(t, dg.IsExempt("/api/debug/token"))
}

func TestDebugRoutesDisabledByDefault(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/api/debug/token", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDebugTokenInspection(t *testing.T) {
	s := newTestServer(t, true)
	_, token := s.signup(t, "owner@example.com")

	w := s.do(t, http.MethodGet, "/api/debug/token", "garbage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"malformed"`)

	w = s.do(t, http.MethodGet, "/api/debug/token", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)
	assert.NotContains(t, w.Body.String(), "secret1")
}
