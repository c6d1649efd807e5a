package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/middleware"
	"github.com/iliyamo/travel-booking/internal/model"
	"github.com/iliyamo/travel-booking/internal/repository"
	"github.com/iliyamo/travel-booking/internal/utils"
)

const secret = "handler-secret"

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]model.User
	nextID  uint64
}

func newMemUsers() *memUsers { return &memUsers{byEmail: map[string]model.User{}} }

func (m *memUsers) Create(_ context.Context, email, password string, role model.Role, cost int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = repository.NormalizeEmail(email)
	if _, ok := m.byEmail[email]; ok {
		return 0, repository.ErrEmailExists
	}
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	m.nextID++
	m.byEmail[email] = model.User{ID: m.nextID, Email: email, PasswordHash: hash, Role: role, IsActive: true}
	return m.nextID, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[repository.NormalizeEmail(email)]
	if !ok {
		return model.User{}, apperr.NotFound("user")
	}
	return u, nil
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return model.User{}, apperr.NotFound("user")
}

func (m *memUsers) setRole(email string, r model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.byEmail[email]
	u.Role = r
	m.byEmail[email] = u
}

type memTokens struct {
	mu   sync.Mutex
	rows map[string]*model.RefreshToken
	// afterValidate runs between a successful ValidateRefresh and its return
	afterValidate func(hash string)
}

func newMemTokens() *memTokens { return &memTokens{rows: map[string]*model.RefreshToken{}} }

func (m *memTokens) StoreRefresh(_ context.Context, userID uint64, sid, hash string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[hash] = &model.RefreshToken{UserID: userID, SessionID: sid, TokenHash: hash, ExpiresAt: exp}
	return nil
}

func (m *memTokens) ValidateRefresh(_ context.Context, hash string, now time.Time) (model.RefreshToken, error) {
	m.mu.Lock()
	t, ok := m.rows[hash]
	if !ok || t.RevokedAt != nil || !now.Before(t.ExpiresAt) {
		m.mu.Unlock()
		return model.RefreshToken{}, apperr.AuthenticationRequired()
	}
	out, hook := *t, m.afterValidate
	m.mu.Unlock()
	if hook != nil {
		hook(hash)
	}
	return out, nil
}

func (m *memTokens) RevokeByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok || t.RevokedAt != nil {
		return apperr.AuthenticationRequired()
	}
	now := time.Now()
	t.RevokedAt = &now
	return nil
}

func (m *memTokens) RevokeSession(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.SessionID == sid && t.RevokedAt == nil {
			now := time.Now()
			t.RevokedAt = &now
		}
	}
	return nil
}

func (m *memTokens) active(sid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.SessionID == sid && t.RevokedAt == nil {
			n++
		}
	}
	return n
}

// newEcho mirrors router.Configure without importing it.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(logger.Discard())
	e.Validator = NewRequestValidator()
	e.Use(middleware.Identify(secret, "access_token"))
	return e
}

func serve(e *echo.Echo, method, path, body string, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for _, m := range mod {
		m(req)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func bearerFor(t *testing.T, id uint64, role model.Role, sid string) func(*http.Request) {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, model.User{ID: id, Email: "u@example.com", Role: role}, sid, time.Hour, time.Now())
	require.NoError(t, err)
	return func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token) }
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func actions(s *audit.MemorySink) []audit.Action {
	var out []audit.Action
	for _, e := range s.Entries() {
		out = append(out, e.Action)
	}
	return out
}

var (
	t0      = time.Now().UTC().Truncate(time.Second)
	minCost = bcrypt.MinCost
)

func fakeClock() *clock.Fake { return clock.NewFake(t0) }
