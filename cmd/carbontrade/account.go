package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dennislee928/carbontrade/client"
	fsstore "github.com/dennislee928/carbontrade/client/stores/fs"
	"github.com/dennislee928/carbontrade/config"
	"github.com/dennislee928/carbontrade/server"
)

// authClient returns a client for CARBONTRADE_API_URL backed by the
// credentials file in the user config directory.
func authClient(cmd *cobra.Command) (*client.AuthClient, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	path, _ := cmd.Flags().GetString("credentials")
	store, err := fsstore.NewFSCredentialStore(path, "")
	if err != nil {
		return nil, nil, err
	}
	return client.NewAuthClient(cfg.APIURL, store), cfg, nil
}

func addCredentialsFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("credentials", "", "credentials file (default <config dir>/carbontrade/credentials.json)")
}

func readPassword(cmd *cobra.Command) (string, error) {
	if pw, _ := cmd.Flags().GetString("password"); pw != "" {
		return pw, nil
	}
	if pw := os.Getenv("CARBONTRADE_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("no password given")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store a refreshable credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, _, err := authClient(cmd)
			if err != nil {
				return err
			}
			email, _ := cmd.Flags().GetString("email")
			if email == "" {
				return errors.New("--email is required")
			}
			password, err := readPassword(cmd)
			if err != nil {
				return err
			}
			scope, _ := cmd.Flags().GetString("scope")
			cred, err := ac.Login(cmd.Context(), email, password, scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in to %s as %s (expires %s)\n", ac.ServerURL(), cred.UserEmail, cred.ExpiresAt.Format("2006-01-02 15:04"))
			return nil
		},
	}
	addCredentialsFlag(cmd)
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (prompted when empty)")
	cmd.Flags().String("scope", "", "space separated scopes to request")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, _, err := authClient(cmd)
			if err != nil {
				return err
			}
			if !ac.IsLoggedIn() {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			if err := ac.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
	addCredentialsFlag(cmd)
	return cmd
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the account behind the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			ac, cfg, err := authClient(cmd)
			if err != nil {
				return err
			}
			if !ac.IsLoggedIn() {
				return errors.New("not logged in, run carbontrade login")
			}
			cc := client.NewCarbonClient(cfg.APIURL, client.WithCarbonHTTPClient(ac.HTTPClient()))
			user, err := cc.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), user)
		},
	}
	addCredentialsFlag(cmd)
	return cmd
}

func backstage(cmd *cobra.Command) (*client.BackstageClient, error) {
	ac, cfg, err := authClient(cmd)
	if err != nil {
		return nil, err
	}
	if !ac.IsLoggedIn() {
		return nil, errors.New("not logged in, run carbontrade login")
	}
	return client.NewBackstageClient(strings.TrimSuffix(cfg.APIURL, "/")+server.APIPrefix, ac.HTTPClient()), nil
}

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Back office commands (administrators only)",
	}
	addCredentialsFlag(cmd)

	users := &cobra.Command{
		Use:   "users",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backstage(cmd)
			if err != nil {
				return err
			}
			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			list, err := b.Users(cmd.Context(), page, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tROLE\tSTATUS")
			for _, u := range list.Users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Name, u.Role, u.Status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d accounts\n", list.Pagination.Page, len(list.Users), list.Pagination.Total)
			return nil
		},
	}
	users.Flags().Int("page", 1, "page")
	users.Flags().Int("limit", 20, "page size")

	errorStats := &cobra.Command{
		Use:   "error-stats",
		Short: "Summarize recorded server errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backstage(cmd)
			if err != nil {
				return err
			}
			days, _ := cmd.Flags().GetInt("days")
			stats, err := b.ErrorLogStats(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	errorStats.Flags().Int("days", 7, "window in days")

	overview := &cobra.Command{
		Use:   "overview",
		Short: "Show dashboard totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := backstage(cmd)
			if err != nil {
				return err
			}
			stats, err := b.OverviewStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.AddCommand(users, errorStats, overview)
	return cmd
}
