package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/84adam/arkvault/api"
	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/database"
	"github.com/84adam/arkvault/logging"
	"github.com/84adam/arkvault/models"
)

type apiError struct {
	status  int
	code    string
	message string
}

func (e *apiError) Error() string { return e.message }

// writeError renders an apiError as-is and anything else as a 500.
func writeError(c echo.Context, err error) error {
	var ae *apiError
	if errors.As(err, &ae) {
		return JSONError(c, ae.status, ae.code, ae.message)
	}
	logging.ErrorLogger.Printf("%s %s failed: %v", c.Request().Method, c.Path(), err)
	return JSONError(c, http.StatusInternalServerError, api.CodeInternal, "Internal server error")
}

// commandSession resolves the live session a command claims to run under.
// The bearer token must belong to that same session.
func (s *Server) commandSession(c echo.Context, sessionID string) (*models.Session, []byte, error) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return nil, nil, &apiError{http.StatusUnauthorized, api.CodeUnauthorized, "Unauthorized"}
	}
	if sessionID == "" || claims.SessionID != sessionID {
		s.securityEvent(c, logging.EventUnauthorizedAccess, claims.Email, map[string]interface{}{"reason": "session_mismatch"})
		return nil, nil, &apiError{http.StatusUnauthorized, api.CodeUnauthorized, "Token does not match session"}
	}

	session, key, err := models.GetActiveSession(s.db, s.sealKey, sessionID)
	switch {
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrSessionRevoked), errors.Is(err, models.ErrSessionExpired):
		return nil, nil, &apiError{http.StatusUnauthorized, api.CodeSessionNotFound, "Session not found"}
	case errors.Is(err, models.ErrSessionUnreadable):
		logging.WarningLogger.Printf("Session %s for %s is sealed under another key", sessionID, claims.Email)
		return nil, nil, &apiError{http.StatusUnauthorized, api.CodeSessionNotFound, "Session not found"}
	case err != nil:
		return nil, nil, err
	}
	if session.Email != claims.Email {
		return nil, nil, &apiError{http.StatusUnauthorized, api.CodeUnauthorized, "Token does not match session"}
	}
	return session, key, nil
}

// verifyCommand checks the command MAC under the session key.
func (s *Server) verifyCommand(c echo.Context, session *models.Session, key []byte, cmd crypto.AuthenticatedCommand, mac []byte) error {
	if cmd.Verify(key, mac) {
		return nil
	}
	s.securityEvent(c, logging.EventCommandMACRejected, session.Email, map[string]interface{}{
		"command": string(cmd.Command),
	})
	return &apiError{http.StatusForbidden, api.CodeCommandUnauthorized, "Command authorization failed"}
}

// DisableTwoFactor turns off TOTP. The code is checked before the MAC.
func (s *Server) DisableTwoFactor(c echo.Context) error {
	var request api.TwoFactorCodeRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	session, key, err := s.commandSession(c, request.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	use, err := s.totp.Check(session.Email, request.TwoFactorCode)
	if err != nil {
		return s.twoFactorFailure(c, session.Email, err)
	}
	cmd := crypto.DisableTwoFactorCommand(request.TwoFactorCode, session.ID)
	if err := s.verifyCommand(c, session, key, cmd, request.MAC); err != nil {
		return writeError(c, err)
	}
	if err := s.totp.Commit(use); err != nil {
		return s.twoFactorFailure(c, session.Email, err)
	}

	if err := s.totp.Remove(session.Email); err != nil {
		return writeError(c, err)
	}
	if err := database.LogUserAction(s.db, session.Email, "disabled 2fa", ""); err != nil {
		logging.ErrorLogger.Printf("Failed to log 2FA disable for %s: %v", session.Email, err)
	}
	s.securityEvent(c, logging.EventTwoFactorDisabled, session.Email, nil)

	return JSONResponse(c, http.StatusOK, "Two-factor authentication disabled", nil)
}

// SetupTwoFactor starts TOTP enrollment and returns the new secret.
func (s *Server) SetupTwoFactor(c echo.Context) error {
	var request api.CommandRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	session, key, err := s.commandSession(c, request.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.verifyCommand(c, session, key, crypto.EnableTwoFactorStartCommand(session.ID), request.MAC); err != nil {
		return writeError(c, err)
	}

	setup, err := s.totp.Setup(session.Email)
	if errors.Is(err, auth.ErrTOTPAlreadyEnabled) {
		return JSONError(c, http.StatusConflict, api.CodeTwoFactorAlreadyEnabled, "Two-factor authentication is already enabled")
	}
	if err != nil {
		return writeError(c, err)
	}

	return JSONResponse(c, http.StatusOK, "Two-factor setup started", api.TwoFactorSetupResponse{
		Secret:     setup.Secret,
		OTPAuthURL: setup.OTPAuthURL,
	})
}

// ConfirmTwoFactor enables a pending TOTP setup.
func (s *Server) ConfirmTwoFactor(c echo.Context) error {
	var request api.TwoFactorCodeRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	session, key, err := s.commandSession(c, request.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	cmd := crypto.EnableTwoFactorConfirmCommand(request.TwoFactorCode, session.ID)
	if err := s.verifyCommand(c, session, key, cmd, request.MAC); err != nil {
		return writeError(c, err)
	}

	err = s.totp.Confirm(session.Email, request.TwoFactorCode)
	switch {
	case errors.Is(err, auth.ErrTOTPNoPendingSetup):
		return JSONError(c, http.StatusConflict, api.CodeTwoFactorNotEnabled, "No pending two-factor setup")
	case errors.Is(err, auth.ErrTOTPAlreadyEnabled):
		return JSONError(c, http.StatusConflict, api.CodeTwoFactorAlreadyEnabled, "Two-factor authentication is already enabled")
	case err != nil:
		return s.twoFactorFailure(c, session.Email, err)
	}

	if err := database.LogUserAction(s.db, session.Email, "enabled 2fa", ""); err != nil {
		logging.ErrorLogger.Printf("Failed to log 2FA enable for %s: %v", session.Email, err)
	}
	s.securityEvent(c, logging.EventTwoFactorEnabled, session.Email, nil)

	return JSONResponse(c, http.StatusOK, "Two-factor authentication enabled", nil)
}

// ChangePasswordStart answers the OPAQUE registration message for the new
// password. The flow is bound to the session, not just the account.
func (s *Server) ChangePasswordStart(c echo.Context) error {
	var request api.PasswordStartRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	session, key, err := s.commandSession(c, request.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	cmd := crypto.ChangePasswordStartCommand(request.RegistrationRequest, session.ID)
	if err := s.verifyCommand(c, session, key, cmd, request.MAC); err != nil {
		return writeError(c, err)
	}

	pending, response, err := s.pake.StartRegistration(session.Email, request.RegistrationRequest)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid registration request")
	}

	return JSONResponse(c, http.StatusOK, "Password change started", api.RegisterStartResponse{
		FlowID:               s.passwordChanges.Put(session.ID, pending),
		RegistrationResponse: response,
	})
}

// ChangePasswordFinish commits the new OPAQUE record and rewrapped profile
// and revokes the old session in the same transaction. It then starts a
// login against the new record so the client can open a fresh session.
func (s *Server) ChangePasswordFinish(c echo.Context) error {
	var request api.PasswordFinishRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	session, key, err := s.commandSession(c, request.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	cmd := crypto.ChangePasswordFinishCommand(request.RegistrationRecord, request.EncMnemonic, request.EncKeys, request.StartLoginRequest, session.ID)
	if err := s.verifyCommand(c, session, key, cmd, request.MAC); err != nil {
		return writeError(c, err)
	}

	pending, err := s.passwordChanges.Take(request.FlowID, session.ID)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeFlowExpired, "Password change flow not found or expired")
	}
	stored, err := s.pake.FinishRegistration(pending, request.RegistrationRecord)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid registration record")
	}
	record, err := stored.Marshal()
	if err != nil {
		return writeError(c, err)
	}
	loginPending, loginResponse, err := s.pake.StartLogin(session.Email, stored, request.StartLoginRequest)
	if err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid login request")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return writeError(c, err)
	}
	defer tx.Rollback()

	if err := models.UpdateCredentials(tx, session.Email, record, request.EncMnemonic, request.EncKeys); err != nil {
		return writeError(c, err)
	}
	revoked := int64(1)
	if s.revokeAll {
		revoked, err = models.RevokeUserSessions(tx, session.Email, "password_change")
	} else {
		err = models.RevokeSession(tx, session.ID, "password_change")
	}
	if err != nil {
		return writeError(c, err)
	}
	if err := tx.Commit(); err != nil {
		return writeError(c, err)
	}

	if err := database.LogUserAction(s.db, session.Email, "changed password", ""); err != nil {
		logging.ErrorLogger.Printf("Failed to log password change for %s: %v", session.Email, err)
	}
	s.securityEvent(c, logging.EventPasswordChanged, session.Email, map[string]interface{}{"sessions_revoked": revoked})
	logging.InfoLogger.Printf("Password changed for %s, %d session(s) revoked", session.Email, revoked)

	return JSONResponse(c, http.StatusOK, "Password changed", api.LoginStartResponse{
		LoginFlowID:   s.logins.Put(session.Email, &pendingLogin{opaque: loginPending}),
		LoginResponse: loginResponse,
	})
}

// Logout revokes the current session.
func (s *Server) Logout(c echo.Context) error {
	var request api.CommandRequest
	if err := c.Bind(&request); err != nil {
		return JSONError(c, http.StatusBadRequest, api.CodeInvalidRequest, "Invalid request format")
	}

	session, key, err := s.commandSession(c, request.SessionID)
	if err != nil {
		return writeError(c, err)
	}
	if err := s.verifyCommand(c, session, key, crypto.LogoutCommand(session.ID), request.MAC); err != nil {
		return writeError(c, err)
	}

	if err := models.RevokeSession(s.db, session.ID, "logout"); err != nil {
		return writeError(c, err)
	}
	s.securityEvent(c, logging.EventLogout, session.Email, nil)

	return JSONResponse(c, http.StatusOK, "Logged out", nil)
}
