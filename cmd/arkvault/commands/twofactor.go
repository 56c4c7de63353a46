package commands

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/crypto"
)

func twoFactorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "2fa",
		Short: "Manage two-factor authentication",
	}
	cmd.AddCommand(twoFactorEnableCmd(), twoFactorConfirmCmd(), twoFactorDisableCmd(), twoFactorCodeCmd())
	return cmd
}

func twoFactorEnableCmd() *cobra.Command {
	var qrPath string

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Start TOTP enrollment",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(password)

			setup, err := vault.EnableTwoFactor(context.Background(), password)
			if err != nil {
				return err
			}

			color.Green("[+] Add this secret to your authenticator app:")
			fmt.Printf("    %s\n    %s\n", setup.Secret, setup.OTPAuthURL)
			if qrPath != "" {
				if err := writeQR(qrPath, setup.OTPAuthURL); err != nil {
					return err
				}
				color.Green("[+] QR code written to %s", qrPath)
			}
			color.Yellow("[-] Run 'arkvault 2fa confirm <code>' to finish")
			return nil
		},
	}
	cmd.Flags().StringVar(&qrPath, "qr", "", "also write the provisioning URI as a PNG QR code")
	return cmd
}

func twoFactorConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm [code]",
		Short: "Finish TOTP enrollment with a code from the app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(password)

			if err := vault.ConfirmTwoFactor(context.Background(), password, args[0]); err != nil {
				return err
			}
			color.Green("[+] Two-factor authentication enabled")
			return nil
		},
	}
}

func twoFactorDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable [code]",
		Short: "Turn off two-factor authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(password)

			if err := vault.DisableTwoFactor(context.Background(), password, args[0]); err != nil {
				return err
			}
			color.Green("[+] Two-factor authentication disabled")
			return nil
		},
	}
}

// twoFactorCodeCmd prints the current code for a secret. Handy for scripted
// logins against a test server.
func twoFactorCodeCmd() *cobra.Command {
	var at int64

	cmd := &cobra.Command{
		Use:   "code [secret]",
		Short: "Print the TOTP code for a base32 secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := time.Now()
			if at != 0 {
				t = time.Unix(at, 0)
			}
			code, err := auth.GenerateCode(args[0], t)
			if err != nil {
				return err
			}
			fmt.Println(code)
			return nil
		},
	}
	cmd.Flags().Int64Var(&at, "at", 0, "unix timestamp to generate the code for")
	return cmd
}

func writeQR(path, content string) error {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return fmt.Errorf("failed to encode QR code: %w", err)
	}
	code, err = barcode.Scale(code, 256, 256)
	if err != nil {
		return fmt.Errorf("failed to scale QR code: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()
	return png.Encode(file, code)
}
