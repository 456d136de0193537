package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/money"
	"kasirlite/backend/internal/service"
)

func newDrawerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drawer",
		Short: "Inspect or toggle the cash drawer session",
	}
	cmd.AddCommand(newDrawerStatusCmd(), newDrawerOpenCmd(), newDrawerCloseCmd())
	return cmd
}

func newDrawerStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is open and its running profit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, bootOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			engine, err := a.engine(ctx, service.Options{})
			if err != nil {
				return err
			}

			status := engine.DrawerStatus()
			if !status.Open {
				fmt.Fprintln(cmd.OutOrStdout(), "drawer: closed")
				return nil
			}
			printSession(cmd.OutOrStdout(), *status.Session)
			return nil
		},
	}
}

func newDrawerOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open a new cash session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx, bootOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			engine, err := a.engine(ctx, service.Options{})
			if err != nil {
				return err
			}

			sess, err := engine.OpenDrawer(ctx)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), sess)
			return nil
		},
	}
}

func newDrawerCloseCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close the open cash session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("closing the drawer needs --yes")
			}
			ctx := cmd.Context()
			a, err := bootstrap(ctx, bootOptions{})
			if err != nil {
				return err
			}
			defer a.close()
			engine, err := a.engine(ctx, service.Options{})
			if err != nil {
				return err
			}

			sess, err := engine.CloseDrawer(ctx)
			if err != nil {
				return err
			}
			printSession(cmd.OutOrStdout(), sess)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm closing the session")
	return cmd
}

func printSession(out io.Writer, sess domain.CashSession) {
	fmt.Fprintf(out, "drawer: %s\nsession: %d\nopened: %s\n", sess.Status, sess.ID, sess.OpenedAt.Format(time.RFC3339))
	if sess.ClosedAt != nil {
		fmt.Fprintf(out, "closed: %s\n", sess.ClosedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "profit: %s\n", money.FormatCents(sess.ProfitCents))
}
