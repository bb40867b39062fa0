package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/natskeeper/internal/server"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
	"github.com/dmitrijs2005/natskeeper/internal/server/services"
)

func (c *cli) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add NAME",
			Short: "Create an account; it is pushed to the resolver by the next sync",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				a, err := app.Accounts.Add(ctx, args[0])
				if err != nil {
					return err
				}
				printAccounts(cmd.OutOrStdout(), a)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "revoke NAME",
			Short: "Mark the account revoked; the next sync removes it from the resolver",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				a, err := app.Accounts.SetRevoked(ctx, args[0], true)
				if err != nil {
					return err
				}
				printAccounts(cmd.OutOrStdout(), a)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "restore NAME",
			Short: "Clear the revoked flag; the next sync pushes the account again",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				a, err := app.Accounts.SetRevoked(ctx, args[0], false)
				if err != nil {
					return err
				}
				printAccounts(cmd.OutOrStdout(), a)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "sync [NAME]",
			Short: "Sync one account now, or run one sync pass over the pending accounts",
			Args:  cobra.MaximumNArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				if len(args) == 1 {
					if err := app.Accounts.RequestSync(ctx, args[0]); err != nil {
						return err
					}
					return app.Accounts.Sync(ctx, args[0])
				}
				res, err := app.Accounts.SyncAccounts(ctx)
				if err != nil {
					return err
				}
				printBatch(cmd.OutOrStdout(), res)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Accounts cannot be deleted; revoke them instead",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, _ *cobra.Command, app *server.App, args []string) error {
				return app.Accounts.Delete(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List accounts",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, _ []string) error {
				accounts, err := app.Accounts.List(ctx)
				if err != nil {
					return err
				}
				printAccounts(cmd.OutOrStdout(), accounts...)
				return nil
			}),
		},
	)
	return cmd
}

func printAccounts(w io.Writer, accounts ...*models.Account) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tACCOUNT ID\tREVOKED\tPENDING SYNC")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%v\t%v\n", a.Name, a.AccountID, a.Revoked, a.PendingSync)
	}
	_ = tw.Flush()
}

func printBatch(w io.Writer, res services.BatchResult) {
	fmt.Fprintf(w, "Selected: %d, succeeded: %d, failed: %d, interrupted: %v\n",
		res.Selected, res.Succeeded, res.Failed, res.Interrupted)
}
