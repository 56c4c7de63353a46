package client

import (
	"context"

	"github.com/84adam/arkvault/api"
)

// Transport carries the orchestrator's requests to the server. Command calls
// take the bearer token issued at login.
type Transport interface {
	RegisterStart(ctx context.Context, req api.RegisterStartRequest) (*api.RegisterStartResponse, error)
	RegisterFinish(ctx context.Context, req api.RegisterFinishRequest) (*api.LoginStartResponse, error)
	LoginStart(ctx context.Context, req api.LoginStartRequest) (*api.LoginStartResponse, error)
	LoginFinish(ctx context.Context, req api.LoginFinishRequest) (*api.LoginFinishResponse, error)

	DisableTwoFactor(ctx context.Context, token string, req api.TwoFactorCodeRequest) error
	EnableTwoFactorStart(ctx context.Context, token string, req api.CommandRequest) (*api.TwoFactorSetupResponse, error)
	EnableTwoFactorConfirm(ctx context.Context, token string, req api.TwoFactorCodeRequest) error
	ChangePasswordStart(ctx context.Context, token string, req api.PasswordStartRequest) (*api.RegisterStartResponse, error)
	ChangePasswordFinish(ctx context.Context, token string, req api.PasswordFinishRequest) (*api.LoginStartResponse, error)
	Logout(ctx context.Context, token string, req api.CommandRequest) error
}
