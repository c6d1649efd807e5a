package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/config"
	"github.com/iliyamo/travel-booking/internal/csrf"
	"github.com/iliyamo/travel-booking/internal/lockout"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/metrics"
	"github.com/iliyamo/travel-booking/internal/middleware"
	"github.com/iliyamo/travel-booking/internal/model"
	"github.com/iliyamo/travel-booking/internal/repository"
	"github.com/iliyamo/travel-booking/internal/utils"
)

// UserStore is the part of repository.UserRepo the auth endpoints use.
type UserStore interface {
	Create(ctx context.Context, email, password string, role model.Role, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// TokenStore is the part of repository.TokenRepo the auth endpoints use.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, sessionID, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (model.RefreshToken, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeSession(ctx context.Context, sessionID string) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg     config.Config
	Sec     config.SecurityConfig
	Users   UserStore
	Tokens  TokenStore
	Lockout *lockout.Tracker
	CSRF    *csrf.Guard
	Audit   middleware.Auditor
	Clock   clock.Clock
	Log     *logger.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthHandler(cfg config.Config, sec config.SecurityConfig, u UserStore, t TokenStore,
	lt *lockout.Tracker, g *csrf.Guard, a middleware.Auditor, c clock.Clock, lg *logger.Logger) *AuthHandler {
	if c == nil {
		c = clock.System{}
	}
	if lg == nil {
		lg = logger.Discard()
	}
	return &AuthHandler{Cfg: cfg, Sec: sec, Users: u, Tokens: t, Lockout: lt, CSRF: g, Audit: a, Clock: c, Log: lg}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}
type loginReq struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

func (h *AuthHandler) timeout(c echo.Context) (context.Context, context.CancelFunc) {
	d := h.Sec.RequestTimeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(c.Request().Context(), d)
}

func (h *AuthHandler) record(ctx context.Context, e audit.Entry) {
	if h.Audit == nil {
		return
	}
	if _, err := h.Audit.Record(ctx, e); err != nil {
		metrics.IncAuditFailure()
		h.Log.Error("audit record failed", "action", e.Action, "err", err)
	}
}

// Register creates a USER account and opens a session. Staff roles are
// granted out of band, never through self-registration.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bind(c, &req); err != nil {
		return err
	}
	email := repository.NormalizeEmail(req.Email)

	ctx, cancel := h.timeout(c)
	defer cancel()

	uid, err := h.Users.Create(ctx, email, req.Password, model.RoleUser, h.Cfg.BcryptCost)
	if err != nil {
		if err == repository.ErrEmailExists {
			return apperr.InvalidInput("email already registered")
		}
		return apperr.Unavailable(err, "user store")
	}
	u := model.User{ID: uid, Email: email, Role: model.RoleUser, IsActive: true}
	resp, err := h.openSession(ctx, c, u, uuid.NewString())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login runs lockout check, credential check, then lockout bookkeeping.
// Unknown emails and wrong passwords are indistinguishable to the caller
// and both count as failures.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bind(c, &req); err != nil {
		return err
	}
	email := repository.NormalizeEmail(req.Email)
	ids := []string{"email:" + email, "ip:" + c.RealIP()}

	ctx, cancel := h.timeout(c)
	defer cancel()

	if err := h.Lockout.Check(ctx, ids...); err != nil {
		if apperr.Is(err, apperr.KindLockedOut) {
			h.record(ctx, audit.Entry{
				Actor:    model.AnonymousActor,
				Action:   audit.ActionLoginFailed,
				Target:   email,
				Outcome:  audit.OutcomeDenied,
				Metadata: map[string]string{"reason": "locked_out", "ip": c.RealIP()},
			})
		}
		return err
	}

	u, err := h.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindNotFound):
		utils.VerifyPassword(h.dummy(), req.Password)
		return h.loginFailed(ctx, c, email, ids)
	default:
		return apperr.Unavailable(err, "user store")
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) || !u.IsActive {
		return h.loginFailed(ctx, c, email, ids)
	}

	// only the account record is cleared; a shared IP keeps its count
	if err := h.Lockout.RecordSuccess(ctx, ids[0]); err != nil {
		return err
	}
	resp, err := h.openSession(ctx, c, u, uuid.NewString())
	if err != nil {
		return err
	}
	h.record(ctx, audit.Entry{
		Actor:    strconv.FormatUint(u.ID, 10),
		Action:   audit.ActionLoginSucceeded,
		Target:   email,
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{"ip": c.RealIP()},
	})
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) loginFailed(ctx context.Context, c echo.Context, email string, ids []string) error {
	md := map[string]string{"ip": c.RealIP()}
	for _, id := range ids {
		st, err := h.Lockout.RecordFailure(ctx, id)
		if err != nil {
			return err
		}
		if strings.HasPrefix(id, "email:") {
			md["failures"] = strconv.Itoa(st.FailureCount)
		}
		if st.Locked {
			metrics.IncLockout()
			h.Log.Warn("identifier locked", "identifier", logger.Mask(id), "failures", st.FailureCount, "until", st.LockedUntil)
			h.record(ctx, audit.Entry{
				Actor:   model.AnonymousActor,
				Action:  audit.ActionAccountLocked,
				Target:  id,
				Outcome: audit.OutcomeSuccess,
				Metadata: map[string]string{
					"failures":     strconv.Itoa(st.FailureCount),
					"locked_until": st.LockedUntil.Format(time.RFC3339),
				},
			})
		}
	}
	h.record(ctx, audit.Entry{
		Actor:    model.AnonymousActor,
		Action:   audit.ActionLoginFailed,
		Target:   email,
		Outcome:  audit.OutcomeFailed,
		Metadata: md,
	})
	return apperr.AuthenticationRequired()
}

// dummy is a bcrypt hash compared against when the email is unknown so
// both failure paths cost the same.
func (h *AuthHandler) dummy() string {
	h.dummyOnce.Do(func() {
		h.dummyHash, _ = utils.HashPassword(uuid.NewString(), h.Cfg.BcryptCost)
	})
	return h.dummyHash
}

// openSession issues an access/refresh pair bound to sid and sets the
// access cookie used by browsers.
func (h *AuthHandler) openSession(ctx context.Context, c echo.Context, u model.User, sid string) (authResp, error) {
	now := h.Clock.Now()
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u, sid, time.Duration(h.Cfg.AccessTTLMin)*time.Minute, now)
	if err != nil {
		return authResp{}, apperr.Internal(err, "issue access failed")
	}
	refresh, err := utils.NewRefreshToken(time.Duration(h.Cfg.RefreshTTLDays)*24*time.Hour, now)
	if err != nil {
		return authResp{}, apperr.Internal(err, "issue refresh failed")
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, sid, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, apperr.Unavailable(err, "token store")
	}
	c.SetCookie(&http.Cookie{
		Name:     h.Sec.AccessCookieName,
		Value:    access.Token,
		Path:     "/",
		Expires:  access.Exp,
		MaxAge:   int(access.Exp.Sub(now).Seconds()),
		Secure:   h.Sec.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return authResp{
		User:    userPart{ID: u.ID, Email: u.Email, Role: u.Role.String()},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	}, nil
}

// Refresh validates by hash, revokes the old token and issues a new pair in
// the same session.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := bind(c, &req); err != nil {
		return err
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := h.timeout(c)
	defer cancel()

	tok, err := h.Tokens.ValidateRefresh(ctx, hash, h.Clock.Now())
	if err != nil {
		if apperr.Is(err, apperr.KindAuthenticationRequired) {
			return err
		}
		return apperr.Unavailable(err, "token store")
	}
	// revoking is the rotation's commit point: only one concurrent caller
	// gets past it with a given token
	if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
		if apperr.Is(err, apperr.KindAuthenticationRequired) {
			return err
		}
		return apperr.Unavailable(err, "token store")
	}
	u, err := h.Users.GetByID(ctx, tok.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return apperr.AuthenticationRequired()
		}
		return apperr.Unavailable(err, "user store")
	}
	if !u.IsActive {
		return apperr.AuthenticationRequired()
	}
	resp, err := h.openSession(ctx, c, u, tok.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Logout ends the caller's session: refresh tokens and the CSRF token are
// revoked and the access cookie is cleared.
func (h *AuthHandler) Logout(c echo.Context) error {
	p := middleware.Principal(c)
	ctx, cancel := h.timeout(c)
	defer cancel()

	if err := h.Tokens.RevokeSession(ctx, p.SessionID); err != nil {
		return apperr.Unavailable(err, "token store")
	}
	if err := h.CSRF.Revoke(ctx, p.SessionID); err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     h.Sec.AccessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.Sec.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	h.record(ctx, audit.Entry{
		Actor:   p.Actor(),
		Action:  audit.ActionLogout,
		Target:  p.SessionID,
		Outcome: audit.OutcomeSuccess,
	})
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller as resolved from the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	p := middleware.Principal(c)
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": p.ID,
		"email":   p.Email,
		"role":    p.Role.String(),
	})
}
