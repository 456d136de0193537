package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/export"
	"kasirlite/backend/internal/service"
)

func newSalesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sales",
		Short: "Read the sales ledger",
	}
	cmd.AddCommand(newSalesExportCmd())
	return cmd
}

func newSalesExportCmd() *cobra.Command {
	var (
		format string
		out    string
		from   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ledger as XLSX or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			filter, err := dayFilter(from, to)
			if err != nil {
				return err
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

			exporter := export.New(engine)
			if out == "" || out == "-" {
				return exporter.Write(ctx, cmd.OutOrStdout(), f, filter)
			}
			file, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := exporter.Write(ctx, file, f, filter); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or csv")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringVar(&from, "from", "", "first day included (YYYY-MM-DD, UTC)")
	cmd.Flags().StringVar(&to, "to", "", "last day included (YYYY-MM-DD, UTC)")
	return cmd
}

// dayFilter turns an inclusive day range into the half-open window the
// ledger expects.
func dayFilter(from, to string) (domain.SaleFilter, error) {
	var filter domain.SaleFilter
	if from != "" {
		t, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return domain.SaleFilter{}, fmt.Errorf("invalid --from %q", from)
		}
		filter.From = t
	}
	if to != "" {
		t, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return domain.SaleFilter{}, fmt.Errorf("invalid --to %q", to)
		}
		filter.To = t.AddDate(0, 0, 1)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return domain.SaleFilter{}, errors.New("--to must not be before --from")
	}
	return filter, nil
}
