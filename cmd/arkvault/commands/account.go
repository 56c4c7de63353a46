package commands

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/84adam/arkvault/client"
	"github.com/84adam/arkvault/crypto"
)

func registerCmd() *cobra.Command {
	var captcha string
	var showMnemonic bool

	cmd := &cobra.Command{
		Use:   "register [email]",
		Short: "Create an account and log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readNewPassword("Password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(password)

			session, err := vault.Register(context.Background(), client.RegisterInput{
				Email:    args[0],
				Password: password,
				Captcha:  captcha,
			})
			if err != nil {
				return err
			}

			color.Green("[+] Registered and logged in as %s", session.Email)
			if showMnemonic {
				color.Yellow("[-] Recovery phrase, write it down and keep it offline:")
				color.White("    %s", session.Mnemonic)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&captcha, "captcha", "", "captcha token from the registration page")
	cmd.Flags().BoolVar(&showMnemonic, "show-mnemonic", false, "print the recovery phrase")
	return cmd
}

func loginCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "login [email]",
		Short: "Log in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(password)

			session, err := vault.Login(context.Background(), client.LoginInput{
				Email:         args[0],
				Password:      password,
				TwoFactorCode: code,
			})
			if err != nil {
				return err
			}
			color.Green("[+] Logged in as %s", session.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "two-factor code")
	return cmd
}

func logoutCmd() *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session on the server and forget it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				return vault.ClearSession()
			}
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(password)

			if err := vault.Logout(context.Background(), password); err != nil {
				return err
			}
			color.Green("[+] Logged out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "only forget the local session")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := vault.Account()
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Field", "Value"})
			table.SetBorder(false)
			table.Append([]string{"Email", account.Email})
			table.Append([]string{"Session", account.SessionID})
			table.Append([]string{"X25519 public key", account.ECCPublicKey})
			table.Append([]string{"ML-KEM-768 public key", shorten(account.KyberPublicKey)})
			table.Render()
			return nil
		},
	}
}

func shorten(s string) string {
	if len(s) <= 48 {
		return s
	}
	return s[:24] + "..." + s[len(s)-24:]
}
