package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/ec-storefront/internal/bootstrap"
	"github.com/example/ec-storefront/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &cli{}
	err := c.rootCmd().ExecuteContext(ctx)
	if c.app != nil {
		if cerr := c.app.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, cerr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	app        *bootstrap.App
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "storefront",
		Short:        "Storefront cart and account client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			app, err := bootstrap.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			c.app = app
			if verifiesSession(cmd) {
				c.verifySession(cmd)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", getEnv("STOREFRONT_CONFIG", ""), "path to a YAML config file")

	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.cartCmd(),
		c.promoCmd(),
	)
	return root
}

// verifiesSession reports whether cmd or one of its parents asks for the
// stored token to be checked against the server before it runs.
func verifiesSession(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations[annotationSession] == "verify" {
			return true
		}
	}
	return false
}

const annotationSession = "session"

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
