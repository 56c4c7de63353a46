// Package client drives the OPAQUE registration, login, two-factor and
// password-change flows from the user's device. The server only ever sees
// OPAQUE messages, wrapped key material and command MACs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/84adam/arkvault/api"
	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/logging"
	"github.com/84adam/arkvault/models"
)

// Store keys. These are the only values the client persists.
const (
	keySessionKeyEnc  = "sessionKeyEnc"
	keySessionKeySalt = "sessionKeySalt"
	keySessionID      = "sessionID"
	keyMnemonic       = "mnemonic"
	keyKeys           = "keys"
	keyEmail          = "email"
	keyToken          = "token"
)

// Client is the credential orchestrator. Each method is one independent flow;
// the store is the only state shared between them.
type Client struct {
	transport Transport
	store     Store
	pake      auth.PakeClient
	profile   crypto.ArgonProfile
}

type Option func(*Client)

func WithPake(pake auth.PakeClient) Option {
	return func(c *Client) { c.pake = pake }
}

// WithKDFProfile sets the Argon2id cost used to vault the session key.
func WithKDFProfile(profile crypto.ArgonProfile) Option {
	return func(c *Client) { c.profile = profile }
}

func New(transport Transport, store Store, opts ...Option) *Client {
	c := &Client{
		transport: transport,
		store:     store,
		pake:      auth.NewPakeClient(),
		profile:   crypto.ArgonInteractive,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is an authenticated session with the user's unwrapped key material.
type Session struct {
	SessionID        string
	Email            string
	Token            string
	Keys             crypto.UserKeys
	Mnemonic         string
	TwoFactorEnabled bool

	sessionKey []byte
	exportKey  []byte
}

func (s *Session) SessionKey() []byte { return s.sessionKey }

// ExportKey is only set on sessions produced by a PAKE exchange, not by
// Restore.
func (s *Session) ExportKey() []byte { return s.exportKey }

type RegisterInput struct {
	Email    string
	Password []byte
	Captcha  string
}

type LoginInput struct {
	Email         string
	Password      []byte
	TwoFactorCode string
}

type ChangePasswordInput struct {
	OldPassword []byte
	NewPassword []byte
}

// Account is what can be read from the store without a password.
type Account struct {
	Email          string
	SessionID      string
	ECCPublicKey   string
	KyberPublicKey string
}

// Register creates an account with fresh key material and logs it in. The
// server finalizes registration and starts the first login in one round.
func (c *Client) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	email, err := models.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	regState, regReq, err := c.pake.StartRegistration(email, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to start registration: %w", err)
	}
	start, err := c.transport.RegisterStart(ctx, api.RegisterStartRequest{
		Email:               email,
		RegistrationRequest: regReq,
		Captcha:             in.Captcha,
	})
	if err != nil {
		return nil, err
	}

	exportKey, record, err := c.pake.FinishRegistration(regState, start.RegistrationResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to finish registration: %w", err)
	}
	defer crypto.SecureZeroBytes(exportKey)

	keys, err := crypto.GenerateUserKeys()
	if err != nil {
		return nil, err
	}
	mnemonic, err := crypto.GenerateMnemonic()
	if err != nil {
		return nil, err
	}
	encMnemonic, encKeys, err := crypto.Wrap(keys, mnemonic, exportKey)
	if err != nil {
		return nil, err
	}

	loginState, loginReq, err := c.pake.StartLogin(email, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to start login: %w", err)
	}
	loginStart, err := c.transport.RegisterFinish(ctx, api.RegisterFinishRequest{
		Email:              email,
		FlowID:             start.FlowID,
		RegistrationRecord: record,
		Profile:            api.Profile{EncMnemonic: encMnemonic, EncKeys: encKeys},
		StartLoginRequest:  loginReq,
	})
	if err != nil {
		return nil, err
	}

	logging.InfoLogger.Printf("Registered %s", email)
	return c.finishOpaqueLogin(ctx, email, in.Password, loginState, loginStart)
}

// Login authenticates with a password and, when enabled, a TOTP code.
func (c *Client) Login(ctx context.Context, in LoginInput) (*Session, error) {
	email, err := models.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	state, req, err := c.pake.StartLogin(email, in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to start login: %w", err)
	}
	start, err := c.transport.LoginStart(ctx, api.LoginStartRequest{
		Email:             email,
		StartLoginRequest: req,
		TwoFactorCode:     in.TwoFactorCode,
	})
	if err != nil {
		return nil, err
	}
	return c.finishOpaqueLogin(ctx, email, in.Password, state, start)
}

// finishOpaqueLogin completes a started login, opens the key envelope and
// vaults the session key. Nothing is persisted unless every step succeeds.
func (c *Client) finishOpaqueLogin(ctx context.Context, email string, password []byte, state *auth.LoginState, start *api.LoginStartResponse) (*Session, error) {
	result, err := c.pake.FinishLogin(state, start.LoginResponse)
	if errors.Is(err, auth.ErrPakeLoginFailed) {
		return nil, ErrLoginFailed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finish login: %w", err)
	}

	finish, err := c.transport.LoginFinish(ctx, api.LoginFinishRequest{
		Email:              email,
		LoginFlowID:        start.LoginFlowID,
		FinishLoginRequest: result.FinishRequest,
	})
	if err != nil {
		return nil, err
	}

	keys, mnemonic, err := crypto.Unwrap(finish.User.EncMnemonic, finish.User.EncKeys, result.ExportKey)
	if err != nil {
		return nil, err
	}
	record, err := crypto.Vault(password, result.SessionKey, c.profile)
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID:        finish.SessionID,
		Email:            email,
		Token:            finish.Token,
		Keys:             keys,
		Mnemonic:         mnemonic,
		TwoFactorEnabled: finish.User.TwoFactorEnabled,
		sessionKey:       result.SessionKey,
		exportKey:        result.ExportKey,
	}
	if err := c.persist(session, record); err != nil {
		return nil, err
	}

	logging.InfoLogger.Printf("Logged in as %s", email)
	return session, nil
}

// Authorize MACs cmd with the vaulted session key.
func (c *Client) Authorize(password []byte, cmd crypto.AuthenticatedCommand) ([]byte, error) {
	key, err := c.sessionKey(password)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZeroSessionKey(key)
	return cmd.Sign(key), nil
}

// DisableTwoFactor turns off TOTP. The server checks the code, then the MAC.
func (c *Client) DisableTwoFactor(ctx context.Context, password []byte, code string) error {
	sessionID, token, err := c.sessionIdentity()
	if err != nil {
		return err
	}
	mac, err := c.Authorize(password, crypto.DisableTwoFactorCommand(code, sessionID))
	if err != nil {
		return err
	}
	return c.transport.DisableTwoFactor(ctx, token, api.TwoFactorCodeRequest{
		CommandRequest: api.CommandRequest{MAC: mac, SessionID: sessionID},
		TwoFactorCode:  code,
	})
}

// EnableTwoFactor starts TOTP enrollment. The returned secret must be
// confirmed with ConfirmTwoFactor before it is enforced.
func (c *Client) EnableTwoFactor(ctx context.Context, password []byte) (*api.TwoFactorSetupResponse, error) {
	sessionID, token, err := c.sessionIdentity()
	if err != nil {
		return nil, err
	}
	mac, err := c.Authorize(password, crypto.EnableTwoFactorStartCommand(sessionID))
	if err != nil {
		return nil, err
	}
	return c.transport.EnableTwoFactorStart(ctx, token, api.CommandRequest{MAC: mac, SessionID: sessionID})
}

func (c *Client) ConfirmTwoFactor(ctx context.Context, password []byte, code string) error {
	sessionID, token, err := c.sessionIdentity()
	if err != nil {
		return err
	}
	mac, err := c.Authorize(password, crypto.EnableTwoFactorConfirmCommand(code, sessionID))
	if err != nil {
		return err
	}
	return c.transport.EnableTwoFactorConfirm(ctx, token, api.TwoFactorCodeRequest{
		CommandRequest: api.CommandRequest{MAC: mac, SessionID: sessionID},
		TwoFactorCode:  code,
	})
}

// ChangePassword re-registers under the new password and rewraps the
// existing keys and mnemonic. Both server calls are authorized by the old
// session key. The finish call is never sent unless start succeeded, and the
// stored session is only replaced once the new login completes.
func (c *Client) ChangePassword(ctx context.Context, in ChangePasswordInput) (*Session, error) {
	sessionID, token, err := c.sessionIdentity()
	if err != nil {
		return nil, err
	}
	oldKey, err := c.sessionKey(in.OldPassword)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureZeroBytes(oldKey)

	email, keys, mnemonic, err := c.storedIdentity()
	if err != nil {
		return nil, err
	}

	regState, regReq, err := c.pake.StartRegistration(email, in.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to start registration: %w", err)
	}
	start, err := c.transport.ChangePasswordStart(ctx, token, api.PasswordStartRequest{
		CommandRequest:      api.CommandRequest{MAC: crypto.ChangePasswordStartCommand(regReq, sessionID).Sign(oldKey), SessionID: sessionID},
		RegistrationRequest: regReq,
	})
	if err != nil {
		return nil, err
	}

	exportKey, record, err := c.pake.FinishRegistration(regState, start.RegistrationResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to finish registration: %w", err)
	}
	defer crypto.SecureZeroBytes(exportKey)

	encMnemonic, encKeys, err := crypto.Wrap(keys, mnemonic, exportKey)
	if err != nil {
		return nil, err
	}
	loginState, loginReq, err := c.pake.StartLogin(email, in.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to start login: %w", err)
	}

	mac := crypto.ChangePasswordFinishCommand(record, encMnemonic, encKeys, loginReq, sessionID).Sign(oldKey)
	relogin, err := c.transport.ChangePasswordFinish(ctx, token, api.PasswordFinishRequest{
		CommandRequest:     api.CommandRequest{MAC: mac, SessionID: sessionID},
		FlowID:             start.FlowID,
		RegistrationRecord: record,
		EncMnemonic:        encMnemonic,
		EncKeys:            encKeys,
		StartLoginRequest:  loginReq,
	})
	if err != nil {
		return nil, err
	}

	session, err := c.finishOpaqueLogin(ctx, email, in.NewPassword, loginState, relogin)
	if err != nil {
		return nil, fmt.Errorf("password changed but login failed, log in with the new password: %w", err)
	}
	logging.InfoLogger.Printf("Password changed for %s", email)
	return session, nil
}

// Logout revokes the session on the server and clears local state. A
// session the server no longer knows is cleared as well.
func (c *Client) Logout(ctx context.Context, password []byte) error {
	sessionID, token, err := c.sessionIdentity()
	if err != nil {
		return err
	}
	mac, err := c.Authorize(password, crypto.LogoutCommand(sessionID))
	if err != nil {
		return err
	}
	err = c.transport.Logout(ctx, token, api.CommandRequest{MAC: mac, SessionID: sessionID})
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return c.ClearSession()
}

// ClearSession forgets the local session without contacting the server.
func (c *Client) ClearSession() error {
	return c.store.Clear()
}

// Restore reloads a persisted session after a restart.
func (c *Client) Restore(password []byte) (*Session, error) {
	sessionID, token, err := c.sessionIdentity()
	if err != nil {
		return nil, err
	}
	key, err := c.sessionKey(password)
	if err != nil {
		return nil, err
	}
	email, keys, mnemonic, err := c.storedIdentity()
	if err != nil {
		return nil, err
	}
	return &Session{
		SessionID:  sessionID,
		Email:      email,
		Token:      token,
		Keys:       keys,
		Mnemonic:   mnemonic,
		sessionKey: key,
	}, nil
}

// Account reports the stored account without unlocking anything.
func (c *Client) Account() (*Account, error) {
	sessionID, _, err := c.sessionIdentity()
	if err != nil {
		return nil, err
	}
	email, keys, _, err := c.storedIdentity()
	if err != nil {
		return nil, err
	}
	return &Account{
		Email:          email,
		SessionID:      sessionID,
		ECCPublicKey:   keys.ECC.PublicKey,
		KyberPublicKey: keys.Kyber.PublicKey,
	}, nil
}

func (c *Client) persist(session *Session, record crypto.SessionVaultRecord) error {
	keysJSON, err := json.Marshal(session.Keys)
	if err != nil {
		return err
	}
	values := map[string][]byte{
		keySessionKeyEnc:  []byte(record.SessionKeyEnc),
		keySessionKeySalt: []byte(record.Salt),
		keySessionID:      []byte(session.SessionID),
		keyMnemonic:       []byte(session.Mnemonic),
		keyKeys:           keysJSON,
		keyEmail:          []byte(session.Email),
		keyToken:          []byte(session.Token),
	}
	if err := c.store.SetAll(values); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (c *Client) get(key string) ([]byte, error) {
	v, err := c.store.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrNotLoggedIn
	}
	return v, err
}

func (c *Client) sessionIdentity() (sessionID, token string, err error) {
	sid, err := c.get(keySessionID)
	if err != nil {
		return "", "", err
	}
	tok, err := c.get(keyToken)
	if err != nil {
		return "", "", err
	}
	return string(sid), string(tok), nil
}

// sessionKey unvaults the stored session key. A wrong password yields
// ErrVaultAuthentication.
func (c *Client) sessionKey(password []byte) ([]byte, error) {
	enc, err := c.get(keySessionKeyEnc)
	if err != nil {
		return nil, err
	}
	salt, err := c.get(keySessionKeySalt)
	if err != nil {
		return nil, err
	}
	return crypto.Unvault(password, crypto.SessionVaultRecord{SessionKeyEnc: string(enc), Salt: string(salt)}, c.profile)
}

func (c *Client) storedIdentity() (email string, keys crypto.UserKeys, mnemonic string, err error) {
	rawEmail, err := c.get(keyEmail)
	if err != nil {
		return "", keys, "", err
	}
	rawKeys, err := c.get(keyKeys)
	if err != nil {
		return "", keys, "", err
	}
	if err := json.Unmarshal(rawKeys, &keys); err != nil {
		return "", keys, "", fmt.Errorf("%w: stored keys: %v", ErrDecoding, err)
	}
	rawMnemonic, err := c.get(keyMnemonic)
	if err != nil {
		return "", keys, "", err
	}
	return string(rawEmail), keys, string(rawMnemonic), nil
}
