package handlers

import (
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/84adam/arkvault/api"
	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/logging"
	"github.com/84adam/arkvault/monitoring"
)

const sessionSealContext = "arkvault/server/session-seal"

// CaptchaVerifier checks the captcha token sent with a registration.
type CaptchaVerifier interface {
	Verify(token string) error
}

// CaptchaFunc adapts a function to CaptchaVerifier.
type CaptchaFunc func(token string) error

func (f CaptchaFunc) Verify(token string) error { return f(token) }

// RequireCaptchaToken only checks that a token was sent. Deployments that
// front registration with a real captcha provider supply their own verifier.
var RequireCaptchaToken CaptchaFunc = func(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("captcha token is required")
	}
	return nil
}

// Options configures a Server. Zero values fall back to safe defaults.
type Options struct {
	PakeServerKey                  string
	TOTPMasterKey                  []byte
	JWTSecret                      string
	JWTExpiry                      time.Duration
	SessionTTL                     time.Duration
	FlowTTL                        time.Duration
	RevokeSessionsOnPasswordChange bool
	Captcha                        CaptchaVerifier
	SecurityEvents                 *logging.SecurityEventLogger
	// RateLimit is requests per second per client IP on the auth routes.
	// Zero disables limiting.
	RateLimit float64
	// HealthChecks run alongside the database check on the health route.
	HealthChecks []monitoring.HealthChecker
}

// Server is the reference credential server: OPAQUE registration and login,
// TOTP, server-side sessions and MAC-authorized commands.
type Server struct {
	db         *sql.DB
	pake       *auth.PakeServer
	totp       *auth.TOTPService
	tokens     *auth.TokenIssuer
	sealKey    []byte
	sessionTTL time.Duration
	revokeAll  bool
	captcha    CaptchaVerifier
	events     *logging.SecurityEventLogger
	rateLimit  float64
	health     *monitoring.HealthMonitor

	registrations   *auth.FlowCache[*auth.PendingRegistration]
	logins          *auth.FlowCache[*pendingLogin]
	passwordChanges *auth.FlowCache[*auth.PendingRegistration]
}

func NewServer(db *sql.DB, opts Options) (*Server, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	if len(opts.JWTSecret) < 32 {
		return nil, errors.New("JWT secret must be at least 32 characters")
	}

	pake, err := auth.NewPakeServer(opts.PakeServerKey)
	if err != nil {
		return nil, err
	}
	totpService, err := auth.NewTOTPService(db, opts.TOTPMasterKey)
	if err != nil {
		return nil, err
	}
	sealKey, err := crypto.DeriveKeyHKDF(opts.TOTPMasterKey, sessionSealContext)
	if err != nil {
		return nil, err
	}

	if opts.JWTExpiry <= 0 {
		opts.JWTExpiry = 24 * time.Hour
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = opts.JWTExpiry
	}
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = auth.DefaultFlowTTL
	}
	if opts.Captcha == nil {
		opts.Captcha = RequireCaptchaToken
	}
	if opts.SecurityEvents == nil {
		opts.SecurityEvents = logging.NewSecurityEventLogger(db, nil, 0)
	}

	health := monitoring.NewHealthMonitor(&monitoring.DatabaseHealthCheck{DB: db})
	for _, check := range opts.HealthChecks {
		health.RegisterCheck(check)
	}

	return &Server{
		db:              db,
		pake:            pake,
		totp:            totpService,
		tokens:          auth.NewTokenIssuer(opts.JWTSecret, opts.JWTExpiry),
		sealKey:         sealKey,
		sessionTTL:      opts.SessionTTL,
		revokeAll:       opts.RevokeSessionsOnPasswordChange,
		captcha:         opts.Captcha,
		events:          opts.SecurityEvents,
		rateLimit:       opts.RateLimit,
		health:          health,
		registrations:   auth.NewFlowCache[*auth.PendingRegistration](opts.FlowTTL),
		logins:          auth.NewFlowCache[*pendingLogin](opts.FlowTTL),
		passwordChanges: auth.NewFlowCache[*auth.PendingRegistration](opts.FlowTTL),
	}, nil
}

// TOTP exposes the TOTP service so callers can swap its clock.
func (s *Server) TOTP() *auth.TOTPService { return s.totp }

// SealKey is the key session keys are sealed under at rest.
func (s *Server) SealKey() []byte { return s.sealKey }

// RegisterRoutes mounts the auth API on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET(api.PathHealth, s.Health)
	e.GET(api.PathLiveness, s.health.LivenessHandler)

	public := e.Group("")
	if s.rateLimit > 0 {
		public.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(s.rateLimit)),
			DenyHandler: func(c echo.Context, identifier string, err error) error {
				return JSONError(c, http.StatusTooManyRequests, api.CodeRateLimited, "Too many requests")
			},
		}))
	}
	public.POST(api.PathRegisterStart, s.RegisterStart)
	public.POST(api.PathRegisterFinish, s.RegisterFinish)
	public.POST(api.PathLoginStart, s.LoginStart)
	public.POST(api.PathLoginFinish, s.LoginFinish)

	protected := e.Group("")
	protected.Use(s.tokens.Middleware())
	protected.POST(api.PathTwoFactorDisable, s.DisableTwoFactor)
	protected.POST(api.PathTwoFactorSetup, s.SetupTwoFactor)
	protected.POST(api.PathTwoFactorConfirm, s.ConfirmTwoFactor)
	protected.POST(api.PathPasswordStart, s.ChangePasswordStart)
	protected.POST(api.PathPasswordFinish, s.ChangePasswordFinish)
	protected.POST(api.PathLogout, s.Logout)
}

// Health runs the registered checks and answers 503 if any is unhealthy.
func (s *Server) Health(c echo.Context) error {
	return s.health.HealthHandler(c)
}

// securityEvent records an event keyed by the caller's IP. Failures are
// logged and otherwise ignored.
func (s *Server) securityEvent(c echo.Context, eventType logging.SecurityEventType, email string, details map[string]interface{}) {
	var emailPtr *string
	if email != "" {
		emailPtr = &email
	}
	ip := net.ParseIP(c.RealIP())
	if err := s.events.LogSecurityEvent(eventType, ip, emailPtr, details); err != nil {
		logging.ErrorLogger.Printf("Failed to record security event %s: %v", eventType, err)
	}
}
