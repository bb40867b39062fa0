package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/natskeeper/internal/server"
	"github.com/dmitrijs2005/natskeeper/internal/server/models"
)

// subjectFlags collects subject permissions from --pub, --sub and --pubsub.
type subjectFlags struct {
	pubsub, pub, sub []string
}

func (f *subjectFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.pubsub, "pubsub", nil, "subjects allowed for publish and subscribe")
	cmd.Flags().StringSliceVar(&f.pub, "pub", nil, "subjects allowed for publish")
	cmd.Flags().StringSliceVar(&f.sub, "sub", nil, "subjects allowed for subscribe")
}

func (f *subjectFlags) subjects() []models.Subject {
	var out []models.Subject
	add := func(list []string, d models.Direction) {
		for _, s := range list {
			out = append(out, models.Subject{Subject: s, Direction: d})
		}
	}
	add(f.pubsub, models.PubSub)
	add(f.pub, models.Publish)
	add(f.sub, models.Subscribe)
	return out
}

func (c *cli) userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var addSubjects subjectFlags
	add := &cobra.Command{
		Use:   "add ACCOUNT NAME",
		Short: "Create a user with exactly the given subject permissions",
		Args:  cobra.ExactArgs(2),
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
			u, err := app.Users.Create(ctx, args[0], args[1], addSubjects.subjects())
			if err != nil {
				return err
			}
			printUsers(cmd.OutOrStdout(), u)
			return nil
		}),
	}
	addSubjects.bind(add)

	var updateSubjects subjectFlags
	update := &cobra.Command{
		Use:   "update NAME",
		Short: "Replace the user's subject permissions",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
			u, err := app.Users.UpdateSubjects(ctx, args[0], updateSubjects.subjects())
			if err != nil {
				return err
			}
			printUsers(cmd.OutOrStdout(), u)
			return nil
		}),
	}
	updateSubjects.bind(update)

	var account string
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, _ []string) error {
			users, err := app.Users.List(ctx, account)
			if err != nil {
				return err
			}
			printUsers(cmd.OutOrStdout(), users...)
			return nil
		}),
	}
	list.Flags().StringVarP(&account, "account", "a", "", "only users of this account")

	cmd.AddCommand(
		add,
		update,
		list,
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Delete the user and revoke its credentials",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				if err := app.Users.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %s deleted\n", args[0])
				return nil
			}),
		},
		&cobra.Command{
			Use:   "revoke NAME",
			Short: "Request revocation of the user's credentials",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				u, err := app.Users.RequestRevocation(ctx, args[0])
				if err != nil {
					return err
				}
				printUsers(cmd.OutOrStdout(), u)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "revert NAME",
			Short: "Request that a revoked user be reinstated",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				u, err := app.Users.RevertRevocation(ctx, args[0])
				if err != nil {
					return err
				}
				printUsers(cmd.OutOrStdout(), u)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "process",
			Short: "Run one pass over pending revocation and revert requests",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, _ []string) error {
				res, err := app.Users.ProcessRevokeRequests(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), "Revocations: ")
				printBatch(cmd.OutOrStdout(), res)

				res, err = app.Users.ProcessRevertRequests(ctx)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), "Reverts: ")
				printBatch(cmd.OutOrStdout(), res)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "creds NAME",
			Short: "Print the credentials file of an active user",
			Args:  cobra.ExactArgs(1),
			RunE: c.withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App, args []string) error {
				creds, err := app.Users.Credential(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), creds)
				return nil
			}),
		},
	)
	return cmd
}

func printUsers(w io.Writer, users ...*models.User) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tACCOUNT\tSTATUS\tUSER ID\tSUBJECTS")
	for _, u := range users {
		subjects := make([]string, 0, len(u.Subjects))
		for _, s := range u.Subjects {
			subjects = append(subjects, fmt.Sprintf("%s(%s)", s.Subject, s.Direction))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.Name, u.Account, u.Status, u.UserID, strings.Join(subjects, " "))
	}
	_ = tw.Flush()
}
