// Command arkvault-admin is the operator tool for an arkvault server. It runs
// on the server host and works directly against the server's database, using
// the same configuration (.env, environment, CONFIG_FILE) as arkvault-server.
package main

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/84adam/arkvault/api"
	"github.com/84adam/arkvault/auth"
	"github.com/84adam/arkvault/config"
	"github.com/84adam/arkvault/crypto"
	"github.com/84adam/arkvault/database"
	"github.com/84adam/arkvault/logging"
	"github.com/84adam/arkvault/models"
	"github.com/84adam/arkvault/monitoring"
)

var (
	cfg *config.Config
	db  *sql.DB
)

func main() {
	root := &cobra.Command{
		Use:           "arkvault-admin",
		Short:         "Operator commands for an arkvault server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(listUsersCmd(), revokeUserCmd(), resetTwoFactorCmd(), auditCmd(), healthCheckCmd())

	if err := root.Execute(); err != nil {
		color.Red("[!] %v", err)
		os.Exit(1)
	}
}

// withDatabase loads the server configuration and opens its database for the
// duration of one command.
func withDatabase(run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.LoadConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		dsn := cfg.Database.Path
		if cfg.Database.Driver == database.DriverRqlite {
			dsn = database.RqliteDSN(cfg.Database.RqliteNodes, cfg.Database.RqliteUser, cfg.Database.RqlitePass)
		}
		if db, err = database.Open(cfg.Database.Driver, dsn); err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		return run(cmd, args)
	}
}

func listUsersCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list-users",
		Short: "List accounts with 2FA state and live session count",
		RunE: withDatabase(func(cmd *cobra.Command, args []string) error {
			users, err := models.ListUsers(db, limit, offset)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Email", "Created", "2FA", "Sessions"})
			table.SetBorder(false)
			for _, u := range users {
				table.Append([]string{
					u.Email,
					u.CreatedAt.Format("2006-01-02 15:04"),
					fmt.Sprintf("%t", u.TwoFactorEnabled),
					fmt.Sprintf("%d", u.ActiveSessions),
				})
			}
			table.Render()
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of users to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset for pagination")
	return cmd
}

func revokeUserCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "revoke-user [email]",
		Short: "Revoke every session of an account",
		Args:  cobra.ExactArgs(1),
		RunE: withDatabase(func(cmd *cobra.Command, args []string) error {
			email, err := models.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			if !confirm && !confirmed(fmt.Sprintf("Revoke all sessions for '%s'?", email)) {
				fmt.Println("Revocation cancelled")
				return nil
			}

			n, err := models.RevokeUserSessions(db, email, "admin")
			if err != nil {
				return err
			}
			recordEvent(logging.EventSessionRevoked, email, map[string]interface{}{"count": n, "reason": "admin"})
			color.Green("[+] Revoked %d session(s) for %s", n, email)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "skip the confirmation prompt")
	return cmd
}

func resetTwoFactorCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset-2fa [email]",
		Short: "Remove TOTP from an account that lost its authenticator",
		Args:  cobra.ExactArgs(1),
		RunE: withDatabase(func(cmd *cobra.Command, args []string) error {
			email, err := models.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			if _, err := models.GetUserByEmail(db, email); err != nil {
				return err
			}

			masterKey, err := crypto.ParseTOTPMasterKey(cfg.Security.TOTPMasterKey)
			if err != nil {
				return err
			}
			totpService, err := auth.NewTOTPService(db, masterKey)
			if err != nil {
				return err
			}

			if !confirm && !confirmed(fmt.Sprintf("Remove two-factor authentication from '%s'?", email)) {
				fmt.Println("Reset cancelled")
				return nil
			}
			if err := totpService.Remove(email); err != nil {
				return err
			}
			recordEvent(logging.EventTwoFactorDisabled, email, map[string]interface{}{"reason": "admin"})
			color.Green("[+] Two-factor authentication removed for %s", email)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "skip the confirmation prompt")
	return cmd
}

func auditCmd() *cobra.Command {
	var filters logging.SecurityEventFilters
	var eventType, severity string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent security events",
		RunE: withDatabase(func(cmd *cobra.Command, args []string) error {
			filters.EventType = logging.SecurityEventType(eventType)
			filters.Severity = logging.SecurityEventSeverity(strings.ToUpper(severity))

			events, err := logging.NewSecurityEventLogger(db, nil, 0).GetSecurityEvents(filters)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Time", "Event", "Severity", "Email", "Entity"})
			table.SetBorder(false)
			for _, e := range events {
				email := ""
				if e.Email != nil {
					email = *e.Email
				}
				table.Append([]string{
					e.Timestamp.UTC().Format(time.RFC3339),
					string(e.EventType),
					string(e.Severity),
					email,
					e.EntityID,
				})
			}
			table.Render()
			return nil
		}),
	}
	cmd.Flags().StringVar(&eventType, "type", "", "only this event type, e.g. login_failure")
	cmd.Flags().StringVar(&filters.Email, "email", "", "only events for this account")
	cmd.Flags().StringVar(&severity, "severity", "", "only INFO, WARNING or CRITICAL")
	cmd.Flags().IntVar(&filters.Limit, "limit", 100, "maximum number of events")
	return cmd
}

func healthCheckCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Query the server health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(strings.TrimRight(server, "/") + api.PathHealth)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			var report monitoring.HealthResponse
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				return fmt.Errorf("invalid health response: %w", err)
			}

			printStatus := color.Green
			switch report.Status {
			case monitoring.StatusDegraded:
				printStatus = color.Yellow
			case monitoring.StatusUnhealthy:
				printStatus = color.Red
			}
			printStatus("Overall: %s (up %s)", strings.ToUpper(string(report.Status)), report.Uptime)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Check", "Status", "Message"})
			table.SetBorder(false)
			for name, check := range report.Checks {
				table.Append([]string{name, string(check.Status), check.Message})
			}
			table.Render()

			if report.Status == monitoring.StatusUnhealthy {
				return fmt.Errorf("server is unhealthy")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "server base URL")
	return cmd
}

func confirmed(prompt string) bool {
	fmt.Printf("%s (yes/no): ", prompt)
	response, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes" || response == "y"
}

func recordEvent(eventType logging.SecurityEventType, email string, details map[string]interface{}) {
	events := logging.NewSecurityEventLogger(db, nil, 0)
	if err := events.LogSecurityEvent(eventType, nil, &email, details); err != nil {
		color.Yellow("[-] Failed to record security event: %v", err)
	}
}
