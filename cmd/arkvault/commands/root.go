package commands

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/84adam/arkvault/client"
	"github.com/84adam/arkvault/config"
	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/logging"
)

var (
	serverURL  string
	storePath  string
	kdfProfile string
	verbose    bool

	vault *client.Client
)

func Execute() error {
	cfg := config.LoadClientConfig()

	root := &cobra.Command{
		Use:           "arkvault",
		Short:         "Zero-knowledge account client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				if err := logging.InitLogging(&logging.LogConfig{LogLevel: logging.DEBUG}); err != nil {
					return err
				}
			}

			if storePath == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				storePath = filepath.Join(dir, ".arkvault", "store.json")
			}
			store, err := client.NewFileStore(storePath)
			if err != nil {
				return err
			}

			capability, err := crypto.ParseDeviceCapability(kdfProfile)
			if err != nil {
				return err
			}

			vault = client.New(client.NewHTTPTransport(serverURL), store, client.WithKDFProfile(capability.GetProfile()))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", cfg.Client.ServerURL, "server base URL")
	root.PersistentFlags().StringVar(&storePath, "store", cfg.Client.StorePath, "session store file (default ~/.arkvault/store.json)")
	root.PersistentFlags().StringVar(&kdfProfile, "kdf-profile", cfg.Client.KDFProfile, "Argon2id profile: minimal, interactive, balanced, maximum")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log requests to stderr")

	root.AddCommand(registerCmd(), loginCmd(), logoutCmd(), statusCmd(), twoFactorCmd(), passwordCmd())

	err := root.Execute()
	if err != nil {
		color.Red("[!] %s", describe(err))
	}
	return err
}

// describe turns the client error taxonomy into something a user can act on.
func describe(err error) string {
	switch {
	case errors.Is(err, client.ErrLoginFailed):
		return "Invalid email or password"
	case errors.Is(err, client.ErrTwoFactorRequired):
		return "This account has two-factor authentication enabled, pass --code"
	case errors.Is(err, client.ErrTwoFactor):
		return "Invalid two-factor code"
	case errors.Is(err, client.ErrVaultAuthentication):
		return "Wrong password for the stored session"
	case errors.Is(err, client.ErrEnvelopeAuthentication):
		return "Stored key material failed authentication"
	case errors.Is(err, client.ErrCommandAuthorization):
		return "The server rejected the request authorization"
	case errors.Is(err, client.ErrSessionNotFound):
		return "Session expired or revoked, log in again"
	case errors.Is(err, client.ErrNotLoggedIn):
		return "Not logged in"
	case errors.Is(err, client.ErrUserExists):
		return "An account with this email already exists"
	case errors.Is(err, client.ErrTransport):
		return "Server unreachable: " + err.Error()
	default:
		return err.Error()
	}
}
