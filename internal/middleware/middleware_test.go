package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/config"
	"github.com/iliyamo/travel-booking/internal/csrf"
	"github.com/iliyamo/travel-booking/internal/kv"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/model"
	"github.com/iliyamo/travel-booking/internal/payment"
	"github.com/iliyamo/travel-booking/internal/ratelimit"
	"github.com/iliyamo/travel-booking/internal/utils"
)

const (
	secret     = "test-secret"
	cookieName = "access_token"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	e     *echo.Echo
	clock *clock.Fake
	store *kv.MemoryStore
	sink  *audit.MemorySink
	log   *audit.Log
}

func newFixture() *fixture {
	fc := clock.NewFake(t0)
	sink := audit.NewMemorySink()
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger.Discard())
	e.Use(Identify(secret, cookieName))
	return &fixture{
		e:     e,
		clock: fc,
		store: kv.NewMemoryStore(fc),
		sink:  sink,
		log:   audit.NewLog(sink, fc, 0, logger.Discard()),
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) actions() []audit.Action {
	var out []audit.Action
	for _, e := range f.sink.Entries() {
		out = append(out, e.Action)
	}
	return out
}

func accessToken(t *testing.T, id uint64, role model.Role, sid string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, model.User{ID: id, Email: "a@b.com", Role: role}, sid, time.Hour, time.Now())
	require.NoError(t, err)
	return tok.Token
}

func ok(c echo.Context) error {
	p := Principal(c)
	return c.JSON(http.StatusOK, echo.Map{"id": p.ID, "role": p.Role.String()})
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestIdentify(t *testing.T) {
	f := newFixture()
	f.e.GET("/who", ok)
	f.e.GET("/private", ok, RequireAuth())

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken(t, 7, model.RoleUser, "s1"))
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"7"`)
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		req.AddCookie(&http.Cookie{Name: cookieName, Value: accessToken(t, 8, model.RoleAdmin, "s2")})
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"role":"ADMIN"`)
	})

	t.Run("invalid token stays anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer garbage")
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"role":"ANONYMOUS"`)
	})

	t.Run("require auth", func(t *testing.T) {
		rec := f.do(httptest.NewRequest(http.MethodGet, "/private", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(apperr.KindAuthenticationRequired), errorCode(t, rec))
	})
}

func TestBrowserOriginated(t *testing.T) {
	e := echo.New()
	cases := []struct {
		name   string
		header string
		cookie bool
		want   bool
	}{
		{name: "bare api client"},
		{name: "origin", header: echo.HeaderOrigin, want: true},
		{name: "fetch metadata", header: "Sec-Fetch-Site", want: true},
		{name: "cookie auth", cookie: true, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, "x")
			}
			c := e.NewContext(req, httptest.NewRecorder())
			setPrincipal(c, model.Principal{ID: "1", Role: model.RoleUser}, tc.cookie)
			assert.Equal(t, tc.want, BrowserOriginated(c))
		})
	}
}

func rlConfig(limit int, window time.Duration) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:     true,
		KeyStrategy: "ip_route",
		Policies:    map[string]ratelimit.Policy{config.OpDefault: {Limit: limit, Window: window}},
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture()
	l := ratelimit.New(f.store, f.clock, time.Second)
	f.e.GET("/limited", ok, RateLimit(l, rlConfig(2, time.Minute), config.OpDefault, f.log, logger.Discard()))

	get := func() *httptest.ResponseRecorder {
		return f.do(httptest.NewRequest(http.MethodGet, "/limited", nil))
	}

	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, http.StatusOK, get().Code)

	f.clock.Advance(15 * time.Second)
	rec = get()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, string(apperr.KindRateLimited), errorCode(t, rec))
	require.Equal(t, http.StatusTooManyRequests, get().Code)

	// one audit entry per exhausted window
	assert.Equal(t, []audit.Action{audit.ActionRateLimited}, f.actions())

	f.clock.Advance(45 * time.Second)
	require.Equal(t, http.StatusOK, get().Code)
}

func TestRateLimit_KeysByClientIP(t *testing.T) {
	f := newFixture()
	l := ratelimit.New(f.store, f.clock, time.Second)
	f.e.GET("/limited", ok, RateLimit(l, rlConfig(1, time.Minute), config.OpDefault, nil, nil))

	from := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = ip + ":5555"
		return f.do(req).Code
	}
	require.Equal(t, http.StatusOK, from("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, from("198.51.100.1"))
	require.Equal(t, http.StatusOK, from("198.51.100.2"))
}

func TestRateLimit_Disabled(t *testing.T) {
	f := newFixture()
	cfg := rlConfig(1, time.Minute)
	cfg.Enabled = false
	f.e.GET("/open", ok, RateLimit(ratelimit.New(f.store, f.clock, 0), cfg, config.OpDefault, nil, nil))
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/open", nil)).Code)
	}
}

func TestRateLimit_StoreDownRejects(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	f := newFixture()
	l := ratelimit.New(kv.NewRedisStore(rdb, "test"), f.clock, 200*time.Millisecond)
	f.e.GET("/limited", ok, RateLimit(l, rlConfig(5, time.Minute), config.OpDefault, f.log, nil))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/limited", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, f.actions())
}

func TestRequireRole(t *testing.T) {
	f := newFixture()
	f.e.POST("/staff", ok, RequireAuth(), RequireRole(model.RoleModerator, f.log, logger.Discard()))

	post := func(role model.Role) int {
		req := httptest.NewRequest(http.MethodPost, "/staff", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken(t, 3, role, "s"))
		return f.do(req).Code
	}

	require.Equal(t, http.StatusForbidden, post(model.RoleUser))
	require.Equal(t, http.StatusOK, post(model.RoleModerator))
	require.Equal(t, http.StatusOK, post(model.RoleAdmin))
	require.Equal(t, http.StatusUnauthorized, f.do(httptest.NewRequest(http.MethodPost, "/staff", nil)).Code)

	entries := f.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAccessDenied, entries[0].Action)
	assert.Equal(t, audit.OutcomeDenied, entries[0].Outcome)
	assert.Equal(t, "3", entries[0].Actor)
	assert.Equal(t, "MODERATOR", entries[0].Metadata["required"])
}

func TestCSRF(t *testing.T) {
	f := newFixture()
	g := csrf.New(f.store, f.clock, time.Hour, time.Second)
	echoBody := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, string(b))
	}
	f.e.POST("/mutate", echoBody, RequireAuth(), CSRF(g, f.log, logger.Discard()))
	f.e.GET("/mutate", ok, RequireAuth(), CSRF(g, f.log, logger.Discard()))

	tok, err := g.Issue(context.Background(), "sess-1")
	require.NoError(t, err)
	cookie := &http.Cookie{Name: cookieName, Value: accessToken(t, 9, model.RoleUser, "sess-1")}

	t.Run("cookie session without token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.AddCookie(cookie)
		rec := f.do(req)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, string(apperr.KindInvalidCsrf), errorCode(t, rec))
	})

	t.Run("header token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.AddCookie(cookie)
		req.Header.Set(csrf.HeaderName, tok.Value)
		require.Equal(t, http.StatusOK, f.do(req).Code)
	})

	t.Run("json field leaves body readable", func(t *testing.T) {
		body := `{"csrf_token":"` + tok.Value + `","x":1}`
		req := httptest.NewRequest(http.MethodPost, "/mutate", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.AddCookie(cookie)
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, body, rec.Body.String())
	})

	t.Run("form field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mutate", strings.NewReader("csrf_token="+tok.Value))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
		req.AddCookie(cookie)
		require.Equal(t, http.StatusOK, f.do(req).Code)
	})

	t.Run("token of another session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.AddCookie(&http.Cookie{Name: cookieName, Value: accessToken(t, 9, model.RoleUser, "sess-2")})
		req.Header.Set(csrf.HeaderName, tok.Value)
		require.Equal(t, http.StatusForbidden, f.do(req).Code)
	})

	t.Run("bearer api client is exempt", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken(t, 9, model.RoleUser, "sess-9"))
		require.Equal(t, http.StatusOK, f.do(req).Code)
	})

	t.Run("bearer from a browser is not", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+accessToken(t, 9, model.RoleUser, "sess-9"))
		req.Header.Set(echo.HeaderOrigin, "https://evil.example")
		require.Equal(t, http.StatusForbidden, f.do(req).Code)
	})

	t.Run("safe method skips", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/mutate", nil)
		req.AddCookie(cookie)
		require.Equal(t, http.StatusOK, f.do(req).Code)
	})

	t.Run("expired token", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
		req.AddCookie(cookie)
		req.Header.Set(csrf.HeaderName, tok.Value)
		require.Equal(t, http.StatusForbidden, f.do(req).Code)
	})

	for _, e := range f.sink.Entries() {
		assert.Equal(t, audit.ActionCsrfRejected, e.Action)
		assert.Equal(t, "POST /mutate", e.Metadata["route"])
	}
	assert.Len(t, f.sink.Entries(), 4)
}

func TestPaymentSignature(t *testing.T) {
	key := []byte("whsec")
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger.Discard())
	e.POST("/hook", func(c echo.Context) error {
		b, _ := io.ReadAll(c.Request().Body)
		return c.String(http.StatusOK, string(b))
	}, PaymentSignature(key, logger.Discard()))

	body := `{"booking_id":"b1","event":"deposit_paid"}`
	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		if sig != "" {
			req.Header.Set(payment.SignatureHeader, sig)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	rec := send(payment.Sign(key, []byte(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send(payment.Sign([]byte("other"), []byte(body))).Code)
	assert.Equal(t, http.StatusUnauthorized, send("sha256=zz").Code)
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger.Discard())
	e.GET("/locked", func(echo.Context) error { return apperr.LockedOut(90*time.Second + time.Millisecond) })
	e.GET("/boom", func(echo.Context) error { return errors.New("db password is hunter2") })
	e.GET("/missing", func(echo.Context) error { return apperr.NotFound("booking") })

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/locked")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "91", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many requests")

	rec = get("/boom")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	rec = get("/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(apperr.KindNotFound), errorCode(t, rec))

	rec = get("/no-such-route")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "HTTP_404", errorCode(t, rec))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(10*time.Millisecond))
	assert.Equal(t, 60, RetryAfterSeconds(time.Minute))
	assert.Equal(t, 61, RetryAfterSeconds(time.Minute+time.Nanosecond))
}
