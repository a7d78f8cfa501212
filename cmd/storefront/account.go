package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/ec-storefront/internal/account"
	"github.com/example/ec-storefront/internal/gateway"
	"github.com/example/ec-storefront/internal/session"
)

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and merge the guest cart into your account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := c.app.Account.Login(cmd.Context(), email, password)
			if err != nil {
				return authFailure(err, "Login failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", user.Name, user.Email)
			return printCart(cmd.OutOrStdout(), c.app.Cart.Snapshot())
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", getEnv("STOREFRONT_PASSWORD", ""), "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := c.app.Account.Register(cmd.Context(), name, email, password)
			if err != nil {
				return authFailure(err, "Register failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", user.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", getEnv("STOREFRONT_PASSWORD", ""), "account password")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out; the local token is forgotten even if the server is unreachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Account.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			token := c.app.Sessions.Current().Token
			user, err := c.app.Account.CheckAuth(cmd.Context())
			switch {
			case errors.Is(err, account.ErrNotSignedIn):
				fmt.Fprintf(out, "Not signed in (%s)\n", c.app.Sessions.Current().Kind())
				return nil
			case errors.Is(err, account.ErrSessionExpired):
				if info, ierr := session.InspectToken(token); ierr == nil && info.Expired(time.Now()) {
					return fmt.Errorf("token expired at %s, sign in again", info.ExpiresAt.Format(time.RFC3339))
				}
				return err
			case err != nil:
				return err
			}
			fmt.Fprintf(out, "%s <%s>", user.Name, user.Email)
			if len(user.Roles) > 0 {
				fmt.Fprintf(out, " [%s]", strings.Join(user.Roles, ", "))
			}
			fmt.Fprintln(out)
			if account.HasRole(user, "admin") {
				fmt.Fprintln(out, "Catalog administration is available for this account")
			}
			return nil
		},
	}
}

// authFailure prefers the server's message, as the web storefront does.
func authFailure(err error, fallback string) error {
	if errors.Is(err, account.ErrMissingCredentials) {
		return err
	}
	return errors.New(gateway.MessageOf(err, fallback))
}

// verifySession drops a stored token the server no longer accepts, so the
// command runs as guest instead of failing with 401.
func (c *cli) verifySession(cmd *cobra.Command) {
	_, err := c.app.Account.CheckAuth(cmd.Context())
	switch {
	case errors.Is(err, account.ErrSessionExpired):
		fmt.Fprintln(cmd.ErrOrStderr(), "Your session expired, continuing as guest. Run `storefront login` to sign in again.")
	case err != nil && !errors.Is(err, account.ErrNotSignedIn):
		c.app.Log.Debug("session check failed", "error", err)
	}
}

// cartFailure turns a cart error into a user message. A 401 re-checks the
// session so a rejected token does not stick around.
func (c *cli) cartFailure(cmd *cobra.Command, err error, fallback string) error {
	if errors.Is(err, gateway.ErrAuth) {
		if _, cerr := c.app.Account.CheckAuth(cmd.Context()); errors.Is(cerr, account.ErrSessionExpired) {
			return cerr
		}
	}
	return errors.New(gateway.MessageOf(err, fallback))
}
