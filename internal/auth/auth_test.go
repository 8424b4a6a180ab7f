package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/zedctl/internal/clock"
)

func newTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	return NewStore("admin", hash, time.Hour, clk)
}

func TestLoginAndValidate(t *testing.T) {
	s := newTestStore(t, nil)

	sess, err := s.Login("admin", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, "admin", sess.Username)

	got, err := s.Validate(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, got.Token)
}

func TestLogin_Rejections(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = s.Login("nobody", "hunter2")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestValidate_UnknownAndEmpty(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.Validate("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Validate("deadbeef")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_Expiry(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	s := newTestStore(t, clk)

	sess, err := s.Login("admin", "hunter2")
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	_, err = s.Validate(sess.Token)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = s.Validate(sess.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout(t *testing.T) {
	s := newTestStore(t, nil)

	sess, err := s.Login("admin", "hunter2")
	require.NoError(t, err)

	s.Logout(sess.Token)
	_, err = s.Validate(sess.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Unknown token logout is a no-op.
	s.Logout("nope")
}

func TestMiddleware_RequireAuth(t *testing.T) {
	s := newTestStore(t, nil)
	mw := NewMiddleware(s)

	var gotSession *Session
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	sess, err := s.Login("admin", "hunter2")
	require.NoError(t, err)

	// Bearer header.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, gotSession)
	assert.Equal(t, "admin", gotSession.Username)

	// Token query parameter (websocket clients).
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?token="+sess.Token, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Garbage token.
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
