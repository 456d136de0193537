package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/money"
	"kasirlite/backend/internal/service"
)

func newProductsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Manage the product catalog",
	}
	cmd.AddCommand(newProductsListCmd(), newProductsAddCmd(), newProductsReceiveCmd())
	return cmd
}

func newProductsListCmd() *cobra.Command {
	var (
		query    string
		lowStock bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List products, optionally filtered by a search term",
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

			var products []domain.Product
			if lowStock {
				products, err = engine.LowStock(ctx)
			} else {
				products, err = engine.SearchProducts(ctx, query)
			}
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), products, engine.LowStockThreshold())
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "match id prefix, name or category")
	cmd.Flags().BoolVar(&lowStock, "low-stock", false, "only products below the low-stock threshold")
	return cmd
}

func newProductsAddCmd() *cobra.Command {
	var (
		req   domain.ProductCreateRequest
		price string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := money.ParseCents(price)
			if err != nil {
				return err
			}
			req.PriceCents = cents

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

			product, err := engine.CreateProduct(ctx, req)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), []domain.Product{product}, engine.LowStockThreshold())
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "product name")
	cmd.Flags().StringVar(&req.Category, "category", "", "category")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().IntVar(&req.InitialStock, "stock", 0, "initial stock")
	cmd.Flags().StringVar(&price, "price", "", "unit price, e.g. 12500 or 12.50")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newProductsReceiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receive <product-id> <qty>",
		Short: "Add received stock to a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid product id %q", args[0])
			}
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
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

			product, err := engine.ReceiveStock(ctx, id, qty)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), []domain.Product{product}, engine.LowStockThreshold())
		},
	}
}

func printProducts(out io.Writer, products []domain.Product, threshold int) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSTOCK\tPRICE\t")
	for _, p := range products {
		marker := ""
		if p.IsLowStock(threshold) {
			marker = "low"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", p.ID, p.Name, p.Category, p.Stock, money.FormatCents(p.PriceCents), marker)
	}
	return w.Flush()
}
