package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/natskeeper/internal/server"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

func (c *cli) settingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Save the operator settings from the configuration",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, _ []string) error {
			op, err := app.ApplySettings(ctx)
			if err != nil {
				return err
			}
			printOperator(cmd.OutOrStdout(), op)
			return nil
		}),
	}
}

func (c *cli) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Save the operator settings and initialize the credential store",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, _ []string) error {
			if _, err := app.ApplySettings(ctx); err != nil {
				return err
			}
			if err := app.Operators.Init(ctx); err != nil {
				return err
			}
			if _, err := app.Operators.RefreshIdentity(ctx); err != nil {
				return err
			}
			op, err := app.Operators.Get(ctx)
			if err != nil {
				return err
			}
			printOperator(cmd.OutOrStdout(), op)
			return nil
		}),
	}
}

func (c *cli) identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Operator identity",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Copy the identifiers from the store tokens into the operator settings",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, _ []string) error {
			changed, err := app.Operators.RefreshIdentity(ctx)
			if err != nil {
				return err
			}
			op, err := app.Operators.Get(ctx)
			if err != nil {
				return err
			}
			printOperator(cmd.OutOrStdout(), op)
			fmt.Fprintf(cmd.OutOrStdout(), "Changed: %v\n", changed)
			return nil
		}),
	})
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	var publish bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the broker configuration fragment",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, _ []string) error {
			if publish {
				link, err := app.PublishServerConfig(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published. Download link (valid 15m):\n%s\n", link)
				return nil
			}
			serverConfig, err := app.Operators.ServerConfig(ctx)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), serverConfig)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&publish, "publish", false, "upload the configuration to the S3 bucket instead of printing it")
	return cmd
}

func printOperator(w io.Writer, op *models.Operator) {
	fmt.Fprintf(w, "Operator: %s\n", op.Name)
	fmt.Fprintf(w, "Account server: %s\n", op.AccountServerURL())
	fmt.Fprintf(w, "Store: %s\n", op.StoreDirectory)
	fmt.Fprintf(w, "Initialized: %v\n", op.Initialized)
	if op.OperatorID != "" {
		fmt.Fprintf(w, "Operator ID: %s\n", op.OperatorID)
		fmt.Fprintf(w, "System account ID: %s\n", op.SystemAccountID)
		fmt.Fprintf(w, "System user ID: %s\n", op.SystemUserID)
		fmt.Fprintf(w, "Operator account ID: %s\n", op.OperatorAccountID)
		fmt.Fprintf(w, "Operator user ID: %s\n", op.OperatorUserID)
	}
}
