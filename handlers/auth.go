package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/84adam/arkvault/api"
	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/database"
	"github.com/84adam/arkvault/logging"
	"github.com/84adam/arkvault/models"
)

// RegisterStart answers the first OPAQUE registration message.
func (s *Server) RegisterStart(c echo.Context) error {
	var request api.RegisterStartRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	email, err := models.NormalizeEmail(request.Email)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
	}
	if len(request.RegistrationRequest) == 0 {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Registration request is required")
	}
	if err := s.captcha.Verify(request.Captcha); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeCaptchaFailed, "Captcha verification failed")
	}

	if _, err := models.GetUserByEmail(s.db, email); err == nil {
		return JSONError(c, http.StatusConflict, api.CodeUserExists, "An account with this email already exists")
	} else if !errors.Is(err, models.ErrUserNotFound) {
		logging.ErrorLogger.Printf("Registration lookup failed for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Registration failed")
	}

	pending, response, err := s.pake.StartRegistration(email, request.RegistrationRequest)
	if err != nil {
		logging.ErrorLogger.Printf("OPAQUE registration start failed for %s: %v", email, err)
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid registration request")
	}

	return JSONResponse(c, http.StatusOK, "Registration started", api.RegisterStartResponse{
		FlowID:               s.registrations.Put(email, pending),
		RegistrationResponse: response,
	})
}

// RegisterFinish stores the OPAQUE record and wrapped profile, then starts a
// login so the client can establish its first session in one more round.
func (s *Server) RegisterFinish(c echo.Context) error {
	var request api.RegisterFinishRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	email, err := models.NormalizeEmail(request.Email)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
	}
	pending, err := s.registrations.Take(request.FlowID, email)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeFlowExpired, "Registration flow not found or expired")
	}

	stored, err := s.pake.FinishRegistration(pending, request.RegistrationRecord)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid registration record")
	}
	record, err := stored.Marshal()
	if err != nil {
		logging.ErrorLogger.Printf("Failed to encode OPAQUE record for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Registration failed")
	}

	loginPending, loginResponse, err := s.pake.StartLogin(email, stored, request.StartLoginRequest)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid login request")
	}

	if _, err := models.CreateUser(s.db, email, record, request.Profile.EncMnemonic, request.Profile.EncKeys); err != nil {
		if errors.Is(err, models.ErrUserExists) {
			return JSONError(c, http.StatusConflict, api.CodeUserExists, "An account with this email already exists")
		}
		logging.ErrorLogger.Printf("Failed to create user %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Registration failed")
	}

	if err := database.LogUserAction(s.db, email, "registered", ""); err != nil {
		logging.ErrorLogger.Printf("Failed to log registration for %s: %v", email, err)
	}
	s.securityEvent(c, logging.EventRegistration, email, nil)
	logging.InfoLogger.Printf("User registered: %s", email)

	return JSONResponse(c, http.StatusCreated, "Registration complete", api.LoginStartResponse{
		LoginFlowID:   s.logins.Put(email, &pendingLogin{opaque: loginPending}),
		LoginResponse: loginResponse,
	})
}

// pendingLogin is a started OPAQUE login plus the second factor it was
// started with, if any. The code is consumed only when the login finishes.
type pendingLogin struct {
	opaque    *auth.PendingLogin
	twoFactor *auth.TOTPUse
}

// LoginStart checks the second factor when the account has one, then
// answers the first OPAQUE login message.
func (s *Server) LoginStart(c echo.Context) error {
	var request api.LoginStartRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	email, err := models.NormalizeEmail(request.Email)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
	}

	user, err := models.GetUserByEmail(s.db, email)
	if errors.Is(err, models.ErrUserNotFound) {
		s.securityEvent(c, logging.EventLoginFailure, email, map[string]interface{}{"reason": "unknown_user"})
		return JSONError(c, http.StatusUnauthorized, api.CodeInvalidCredentials, "Invalid credentials")
	}
	if err != nil {
		logging.ErrorLogger.Printf("Login lookup failed for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Login failed")
	}

	enabled, err := s.totp.IsEnabled(email)
	if err != nil {
		logging.ErrorLogger.Printf("TOTP status lookup failed for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Login failed")
	}
	var twoFactor *auth.TOTPUse
	if enabled {
		if request.TwoFactorCode == "" {
			s.securityEvent(c, logging.EventTwoFactorRequired, email, nil)
			return JSONError(c, http.StatusUnauthorized, api.CodeTwoFactorRequired, "Two-factor code required")
		}
		if twoFactor, err = s.totp.Check(email, request.TwoFactorCode); err != nil {
			return s.twoFactorFailure(c, email, err)
		}
	}

	stored, err := auth.ParseStoredRecord(user.OpaqueRecord)
	if err != nil {
		logging.ErrorLogger.Printf("Stored OPAQUE record for %s is unreadable: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Login failed")
	}
	pending, response, err := s.pake.StartLogin(email, stored, request.StartLoginRequest)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid login request")
	}

	return JSONResponse(c, http.StatusOK, "Login started", api.LoginStartResponse{
		LoginFlowID:   s.logins.Put(email, &pendingLogin{opaque: pending, twoFactor: twoFactor}),
		LoginResponse: response,
	})
}

// LoginFinish verifies the client's key confirmation, opens a server-side
// session and issues an access token bound to it.
func (s *Server) LoginFinish(c echo.Context) error {
	var request api.LoginFinishRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	email, err := models.NormalizeEmail(request.Email)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, err.Error())
	}
	pending, err := s.logins.Take(request.LoginFlowID, email)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeFlowExpired, "Login flow not found or expired")
	}

	sessionKey, err := s.pake.FinishLogin(pending.opaque, request.FinishLoginRequest)
	if err != nil {
		s.securityEvent(c, logging.EventLoginFailure, email, map[string]interface{}{"reason": "opaque_finish"})
		return JSONError(c, http.StatusUnauthorized, api.CodeInvalidCredentials, "Invalid credentials")
	}
	if pending.twoFactor != nil {
		if err := s.totp.Commit(pending.twoFactor); err != nil {
			return s.twoFactorFailure(c, email, err)
		}
	}

	session, err := models.CreateSession(s.db, s.sealKey, email, sessionKey, s.sessionTTL)
	if err != nil {
		logging.ErrorLogger.Printf("Failed to create session for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Login failed")
	}

	token, err := s.tokens.GenerateToken(email, session.ID)
	if err != nil {
		logging.ErrorLogger.Printf("Failed to issue token for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Login failed")
	}

	user, err := models.GetUserByEmail(s.db, email)
	if err != nil {
		logging.ErrorLogger.Printf("Failed to load profile for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Login failed")
	}
	enabled, err := s.totp.IsEnabled(email)
	if err != nil {
		logging.ErrorLogger.Printf("TOTP status lookup failed for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Login failed")
	}

	if err := database.LogUserAction(s.db, email, "logged in", ""); err != nil {
		logging.ErrorLogger.Printf("Failed to log login for %s: %v", email, err)
	}
	s.securityEvent(c, logging.EventLoginSuccess, email, nil)

	return JSONResponse(c, http.StatusOK, "Login successful", api.LoginFinishResponse{
		SessionID: session.ID,
		Token:     token,
		User: api.User{
			Email:            user.Email,
			EncMnemonic:      user.EncMnemonic,
			EncKeys:          user.EncKeys,
			TwoFactorEnabled: enabled,
		},
	})
}

func (s *Server) twoFactorFailure(c echo.Context, email string, err error) error {
	switch {
	case errors.Is(err, auth.ErrTOTPNotEnabled):
		return JSONError(c, http.StatusConflict, api.CodeTwoFactorNotEnabled, "Two-factor authentication is not enabled")
	case errors.Is(err, auth.ErrTOTPInvalidCode), errors.Is(err, auth.ErrTOTPReplay):
		s.securityEvent(c, logging.EventTwoFactorFailure, email, map[string]interface{}{"reason": err.Error()})
		return JSONError(c, http.StatusUnauthorized, api.CodeInvalidTwoFactor, "Invalid two-factor code")
	default:
		logging.ErrorLogger.Printf("TOTP validation failed for %s: %v", email, err)
		return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Two-factor validation failed")
	}
}
