package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/natskeeper/internal/server"
)

func (c *cli) streamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Manage JetStream streams as the operator admin user",
	}

	var createSubjects, updateSubjects []string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a stream",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
			client, err := app.Broker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.CreateStream(ctx, args[0], createSubjects); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stream %s created\n", args[0])
			return nil
		}),
	}
	create.Flags().StringSliceVarP(&createSubjects, "subject", "s", nil, "stream subjects")

	update := &cobra.Command{
		Use:   "update NAME",
		Short: "Replace a stream's subjects",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
			client, err := app.Broker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.UpdateStream(ctx, args[0], updateSubjects); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stream %s updated\n", args[0])
			return nil
		}),
	}
	update.Flags().StringSliceVarP(&updateSubjects, "subject", "s", nil, "stream subjects")

	cmd.AddCommand(create, update, &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a stream; a missing stream is not an error",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
			client, err := app.Broker(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := client.DeleteStream(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stream %s deleted\n", args[0])
			return nil
		}),
	})
	return cmd
}
