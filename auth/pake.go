package auth

import (
	"errors"
	"fmt"

	"github.com/cretz/gopaque/gopaque"

	"github.com/84adam/arkvault/crypto"
)

// ErrPakeLoginFailed is returned by FinishLogin when the server response
// cannot be opened with the supplied password.
var ErrPakeLoginFailed = errors.New("opaque login failed")

var opaqueCrypto = gopaque.CryptoDefault

// RegistrationState is the client-side state between StartRegistration and
// FinishRegistration. It holds the password and must not be reused.
type RegistrationState struct {
	register *gopaque.UserRegister
}

// LoginState is the client-side state between StartLogin and FinishLogin.
type LoginState struct {
	userAuth *gopaque.UserAuth
	kex      *gopaque.KeyExchangeSigma
}

// LoginResult is the output of a successful client login.
type LoginResult struct {
	// ExportKey is stable across logins of one registration.
	ExportKey []byte
	// SessionKey is fresh for every login and equal to the server's copy.
	SessionKey []byte
	// FinishRequest is sent to the server to complete the key exchange.
	FinishRequest []byte
}

// PakeClient is the client half of the OPAQUE exchange.
type PakeClient interface {
	StartRegistration(userID string, password []byte) (*RegistrationState, []byte, error)
	FinishRegistration(state *RegistrationState, response []byte) (exportKey, record []byte, err error)
	StartLogin(userID string, password []byte) (*LoginState, []byte, error)
	FinishLogin(state *LoginState, response []byte) (*LoginResult, error)
}

// OpaqueClient implements PakeClient over gopaque with SIGMA-I as the
// embedded key exchange.
type OpaqueClient struct{}

// NewPakeClient returns the default OPAQUE client.
func NewPakeClient() PakeClient {
	return OpaqueClient{}
}

// StartRegistration generates the registration request for password.
func (OpaqueClient) StartRegistration(userID string, password []byte) (state *RegistrationState, request []byte, err error) {
	defer recoverPake(&err)
	if userID == "" || len(password) == 0 {
		return nil, nil, errors.New("user ID and password are required")
	}

	register := gopaque.NewUserRegister(opaqueCrypto, []byte(userID), nil)
	init := register.Init(password)
	request, err = init.ToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode registration request: %w", err)
	}
	return &RegistrationState{register: register}, request, nil
}

// FinishRegistration seals the client envelope and returns the export key
// and the registration record to upload.
func (OpaqueClient) FinishRegistration(state *RegistrationState, response []byte) (exportKey, record []byte, err error) {
	defer recoverPake(&err)
	if state == nil || state.register == nil {
		return nil, nil, errors.New("registration was not started")
	}

	var serverInit gopaque.ServerRegisterInit
	if err := serverInit.FromBytes(opaqueCrypto, response); err != nil {
		return nil, nil, fmt.Errorf("failed to decode registration response: %w", err)
	}

	complete := state.register.Complete(&serverInit)
	record, err = complete.ToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode registration record: %w", err)
	}

	privateKey, err := state.register.PrivateKey().MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode user key: %w", err)
	}
	defer crypto.SecureZeroBytes(privateKey)

	exportKey, err = crypto.DeriveKeyHKDF(privateKey, crypto.OPAQUEExportContext)
	if err != nil {
		return nil, nil, err
	}
	return exportKey, record, nil
}

// StartLogin generates the credential request for password.
func (OpaqueClient) StartLogin(userID string, password []byte) (state *LoginState, request []byte, err error) {
	defer recoverPake(&err)
	if userID == "" || len(password) == 0 {
		return nil, nil, errors.New("user ID and password are required")
	}

	kex := gopaque.NewKeyExchangeSigma(opaqueCrypto)
	userAuth := gopaque.NewUserAuth(opaqueCrypto, []byte(userID), kex)
	init, err := userAuth.Init(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start login: %w", err)
	}
	request, err = init.ToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode login request: %w", err)
	}
	return &LoginState{userAuth: userAuth, kex: kex}, request, nil
}

// FinishLogin opens the server response. A wrong password surfaces as
// ErrPakeLoginFailed; nothing else is returned in that case.
func (OpaqueClient) FinishLogin(state *LoginState, response []byte) (result *LoginResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, ErrPakeLoginFailed
		}
	}()
	if state == nil || state.userAuth == nil {
		return nil, errors.New("login was not started")
	}

	var serverComplete gopaque.ServerAuthComplete
	if err := serverComplete.FromBytes(opaqueCrypto, response); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}

	finish, userComplete, err := state.userAuth.Complete(&serverComplete)
	if err != nil || userComplete == nil {
		return nil, ErrPakeLoginFailed
	}

	finishRequest, err := userComplete.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode login finish: %w", err)
	}

	privateKey, err := finish.UserPrivateKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode user key: %w", err)
	}
	defer crypto.SecureZeroBytes(privateKey)

	exportKey, err := crypto.DeriveKeyHKDF(privateKey, crypto.OPAQUEExportContext)
	if err != nil {
		return nil, err
	}
	sessionKey, err := sessionKeyFromExchange(state.kex)
	if err != nil {
		return nil, err
	}

	return &LoginResult{ExportKey: exportKey, SessionKey: sessionKey, FinishRequest: finishRequest}, nil
}

func sessionKeyFromExchange(kex *gopaque.KeyExchangeSigma) ([]byte, error) {
	if kex == nil || kex.SharedSecret == nil {
		return nil, errors.New("key exchange did not complete")
	}
	shared, err := kex.SharedSecret.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode shared secret: %w", err)
	}
	defer crypto.SecureZeroBytes(shared)
	return crypto.DeriveKeyHKDF(shared, crypto.OPAQUESessionContext)
}

// recoverPake converts panics from malformed protocol messages into errors.
func recoverPake(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("opaque protocol error: %v", r)
	}
}
