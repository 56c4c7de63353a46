package client

import (
	"errors"
	"fmt"

	"github.com/84adam/arkvault/crypto"
)

// Every flow fails with one of these, possibly wrapped. None of them are
// retried: the caller restarts the flow from the top.
var (
	// ErrLoginFailed means the PAKE exchange did not complete, almost always
	// a wrong password.
	ErrLoginFailed = errors.New("login failed: invalid email or password")

	// ErrTwoFactor is the parent of every second-factor failure.
	ErrTwoFactor         = errors.New("two-factor authentication failed")
	ErrTwoFactorRequired = fmt.Errorf("%w: code required", ErrTwoFactor)
	ErrTwoFactorInvalid  = fmt.Errorf("%w: invalid code", ErrTwoFactor)

	ErrEnvelopeAuthentication = crypto.ErrEnvelopeAuthentication
	ErrVaultAuthentication    = crypto.ErrVaultAuthentication
	ErrDecoding               = crypto.ErrDecoding

	// ErrCommandAuthorization is deliberately vague about which check failed.
	ErrCommandAuthorization = errors.New("command authorization failed")
	ErrSessionNotFound      = errors.New("session not found")

	ErrNotLoggedIn = errors.New("no stored session")
	ErrUserExists  = errors.New("user already exists")
	ErrTransport   = errors.New("server unreachable")
)

// APIError is a server error with no dedicated sentinel.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
}
