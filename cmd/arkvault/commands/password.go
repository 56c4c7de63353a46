package commands

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/84adam/arkvault/client"
	"github.com/84adam/arkvault/crypto"
)

func passwordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the account password",
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPassword, err := readPassword("Current password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(oldPassword)

			newPassword, err := readNewPassword("New password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureZeroBytes(newPassword)

			session, err := vault.ChangePassword(context.Background(), client.ChangePasswordInput{
				OldPassword: oldPassword,
				NewPassword: newPassword,
			})
			if err != nil {
				return err
			}
			color.Green("[+] Password changed, new session %s", session.SessionID)
			return nil
		},
	}
}
