package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/84adam/arkvault/api"
	"github.com/84adam/arkvault/logging"
)

const defaultTimeout = 30 * time.Second

// HTTPTransport speaks the JSON API over HTTP.
type HTTPTransport struct {
	client  *http.Client
	baseURL string
}

type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the default client, e.g. one that trusts a test
// server's certificate.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = client }
}

func NewHTTPTransport(baseURL string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) RegisterStart(ctx context.Context, req api.RegisterStartRequest) (*api.RegisterStartResponse, error) {
	var out api.RegisterStartResponse
	return &out, t.do(ctx, api.PathRegisterStart, "", req, &out)
}

func (t *HTTPTransport) RegisterFinish(ctx context.Context, req api.RegisterFinishRequest) (*api.LoginStartResponse, error) {
	var out api.LoginStartResponse
	return &out, t.do(ctx, api.PathRegisterFinish, "", req, &out)
}

func (t *HTTPTransport) LoginStart(ctx context.Context, req api.LoginStartRequest) (*api.LoginStartResponse, error) {
	var out api.LoginStartResponse
	return &out, t.do(ctx, api.PathLoginStart, "", req, &out)
}

func (t *HTTPTransport) LoginFinish(ctx context.Context, req api.LoginFinishRequest) (*api.LoginFinishResponse, error) {
	var out api.LoginFinishResponse
	return &out, t.do(ctx, api.PathLoginFinish, "", req, &out)
}

func (t *HTTPTransport) DisableTwoFactor(ctx context.Context, token string, req api.TwoFactorCodeRequest) error {
	return t.do(ctx, api.PathTwoFactorDisable, token, req, nil)
}

func (t *HTTPTransport) EnableTwoFactorStart(ctx context.Context, token string, req api.CommandRequest) (*api.TwoFactorSetupResponse, error) {
	var out api.TwoFactorSetupResponse
	return &out, t.do(ctx, api.PathTwoFactorSetup, token, req, &out)
}

func (t *HTTPTransport) EnableTwoFactorConfirm(ctx context.Context, token string, req api.TwoFactorCodeRequest) error {
	return t.do(ctx, api.PathTwoFactorConfirm, token, req, nil)
}

func (t *HTTPTransport) ChangePasswordStart(ctx context.Context, token string, req api.PasswordStartRequest) (*api.RegisterStartResponse, error) {
	var out api.RegisterStartResponse
	return &out, t.do(ctx, api.PathPasswordStart, token, req, &out)
}

func (t *HTTPTransport) ChangePasswordFinish(ctx context.Context, token string, req api.PasswordFinishRequest) (*api.LoginStartResponse, error) {
	var out api.LoginStartResponse
	return &out, t.do(ctx, api.PathPasswordFinish, token, req, &out)
}

func (t *HTTPTransport) Logout(ctx context.Context, token string, req api.CommandRequest) error {
	return t.do(ctx, api.PathLogout, token, req, nil)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

// do posts payload to path and decodes the response data into out.
func (t *HTTPTransport) do(ctx context.Context, path, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrTransport, err)
	}
	logging.DebugLogger.Printf("POST %s -> %d", path, resp.StatusCode)

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return mapServerError(resp.StatusCode, env.Code, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to parse response data: %w", err)
		}
	}
	return nil
}

// mapServerError turns a server error code into the client taxonomy.
func mapServerError(status int, code, message string) error {
	switch code {
	case api.CodeInvalidCredentials:
		return ErrLoginFailed
	case api.CodeTwoFactorRequired:
		return ErrTwoFactorRequired
	case api.CodeInvalidTwoFactor:
		return ErrTwoFactorInvalid
	case api.CodeCommandUnauthorized:
		return ErrCommandAuthorization
	case api.CodeSessionNotFound, api.CodeUnauthorized:
		return ErrSessionNotFound
	case api.CodeUserExists:
		return ErrUserExists
	}
	return &APIError{Status: status, Code: code, Message: message}
}
