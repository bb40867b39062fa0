// Command natskeeper manages the credential lifecycle of a NATS deployment:
// operator initialization, accounts, users and their revocations, and the
// background reconciliation with the broker's resolver.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/natskeeper/internal/server"
	"github.com/dmitrijs2005/natskeeper/internal/server/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli holds the configuration shared by every command.
type cli struct {
	cfg  *config.Config
	opts []server.Option
}

// withApp runs fn against a freshly built App and closes it afterwards.
func (c *cli) withApp(fn func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := server.NewApp(cmd.Context(), c.cfg, c.opts...)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd.Context(), cmd, app, args)
	}
}

func newRootCmd(opts ...server.Option) *cobra.Command {
	c := &cli{cfg: &config.Config{}, opts: opts}
	c.cfg.LoadDefaults()

	root := &cobra.Command{
		Use:           "natskeeper",
		Short:         "Credential lifecycle manager for NATS",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Resolve(cmd.Flags(), c.cfg)
		},
	}
	config.BindFlags(root.PersistentFlags(), c.cfg)

	root.AddCommand(
		c.serveCmd(),
		c.settingsCmd(),
		c.initCmd(),
		c.identityCmd(),
		c.configCmd(),
		c.accountCmd(),
		c.userCmd(),
		c.streamCmd(),
	)
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background reconciliation jobs and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, _ *cobra.Command, app *server.App, _ []string) error {
			return app.Run(ctx)
		}),
	}
}
