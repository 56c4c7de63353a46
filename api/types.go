// Package api holds the JSON wire types shared by the reference server and
// the HTTP transport. Binary fields are []byte and travel as standard base64.
package api

import "github.com/84adam/arkvault/crypto"

const (
	PathRegisterStart    = "/api/auth/register/start"
	PathRegisterFinish   = "/api/auth/register/finish"
	PathLoginStart       = "/api/auth/login/start"
	PathLoginFinish      = "/api/auth/login/finish"
	PathTwoFactorDisable = "/api/auth/2fa/disable"
	PathTwoFactorSetup   = "/api/auth/2fa/setup"
	PathTwoFactorConfirm = "/api/auth/2fa/confirm"
	PathPasswordStart    = "/api/auth/password/start"
	PathPasswordFinish   = "/api/auth/password/finish"
	PathLogout           = "/api/auth/logout"
	PathHealth           = "/api/health"
	PathLiveness         = "/api/health/live"
)

// Error codes carried in Response.Code. Clients map these to typed errors.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeCaptchaFailed           = "captcha_failed"
	CodeUserExists              = "user_exists"
	CodeInvalidCredentials      = "invalid_credentials"
	CodeTwoFactorRequired       = "two_factor_required"
	CodeInvalidTwoFactor        = "invalid_two_factor"
	CodeTwoFactorNotEnabled     = "two_factor_not_enabled"
	CodeTwoFactorAlreadyEnabled = "two_factor_already_enabled"
	CodeCommandUnauthorized     = "command_unauthorized"
	CodeSessionNotFound         = "session_not_found"
	CodeUnauthorized            = "unauthorized"
	CodeFlowExpired             = "flow_expired"
	CodeRateLimited             = "rate_limited"
	CodeInternal                = "internal_error"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Profile is the wrapped key material the server stores but cannot open.
type Profile struct {
	EncMnemonic string               `json:"encMnemonic"`
	EncKeys     crypto.EncryptedKeys `json:"encKeys"`
}

type RegisterStartRequest struct {
	Email               string `json:"email"`
	RegistrationRequest []byte `json:"registrationRequest"`
	Captcha             string `json:"captcha"`
}

type RegisterStartResponse struct {
	FlowID               string `json:"flowId"`
	RegistrationResponse []byte `json:"registrationResponse"`
}

type RegisterFinishRequest struct {
	Email              string  `json:"email"`
	FlowID             string  `json:"flowId"`
	RegistrationRecord []byte  `json:"registrationRecord"`
	Profile            Profile `json:"profile"`
	StartLoginRequest  []byte  `json:"startLoginRequest"`
}

// LoginStartResponse is returned by login start and by the two flows that
// begin a login on the caller's behalf.
type LoginStartResponse struct {
	LoginFlowID   string `json:"loginFlowId"`
	LoginResponse []byte `json:"loginResponse"`
}

type LoginStartRequest struct {
	Email             string `json:"email"`
	StartLoginRequest []byte `json:"startLoginRequest"`
	TwoFactorCode     string `json:"twoFactorCode,omitempty"`
}

type LoginFinishRequest struct {
	Email              string `json:"email"`
	LoginFlowID        string `json:"loginFlowId"`
	FinishLoginRequest []byte `json:"finishLoginRequest"`
}

type User struct {
	Email            string               `json:"email"`
	EncMnemonic      string               `json:"encMnemonic"`
	EncKeys          crypto.EncryptedKeys `json:"encKeys"`
	TwoFactorEnabled bool                 `json:"twoFactorEnabled"`
}

type LoginFinishResponse struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	User      User   `json:"user"`
}

// CommandRequest is embedded by every MAC-authorized request.
type CommandRequest struct {
	MAC       []byte `json:"mac"`
	SessionID string `json:"sessionId"`
}

type TwoFactorCodeRequest struct {
	CommandRequest
	TwoFactorCode string `json:"twoFactorCode"`
}

type TwoFactorSetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
}

type PasswordStartRequest struct {
	CommandRequest
	RegistrationRequest []byte `json:"registrationRequest"`
}

type PasswordFinishRequest struct {
	CommandRequest
	FlowID             string               `json:"flowId"`
	RegistrationRecord []byte               `json:"registrationRecord"`
	EncMnemonic        string               `json:"encMnemonic"`
	EncKeys            crypto.EncryptedKeys `json:"encKeys"`
	StartLoginRequest  []byte               `json:"startLoginRequest"`
}
