// Package export renders the sales ledger as a spreadsheet or CSV file. It
// only reads the ledger.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/money"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// LedgerReader is the read-only view of the ledger an export needs.
type LedgerReader interface {
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.SaleRecord, error)
}

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (f Format) Filename(at time.Time) string {
	return fmt.Sprintf("sales-%s.%s", at.UTC().Format("20060102-150405"), f)
}

type Exporter struct {
	reader LedgerReader
}

func New(reader LedgerReader) *Exporter {
	return &Exporter{reader: reader}
}

func (e *Exporter) Write(ctx context.Context, w io.Writer, format Format, filter domain.SaleFilter) error {
	sales, err := e.reader.ListSales(ctx, filter)
	if err != nil {
		return fmt.Errorf("export: list sales: %w", err)
	}
	switch format {
	case FormatCSV:
		return WriteCSV(w, sales)
	case FormatXLSX:
		return WriteXLSX(w, sales)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

var csvHeader = []string{
	"sale_id", "reference", "created_at", "reversed",
	"product_name", "quantity", "unit_price", "subtotal", "sale_total",
}

// WriteCSV emits one row per sale line.
func WriteCSV(w io.Writer, sales []domain.SaleRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, sale := range sales {
		for _, line := range sale.Lines {
			if err := cw.Write([]string{
				strconv.FormatInt(sale.ID, 10),
				sale.Reference,
				sale.CreatedAt.UTC().Format(time.RFC3339),
				strconv.FormatBool(sale.Reversed),
				line.ProductName,
				strconv.Itoa(line.Quantity),
				money.FormatCents(line.UnitPriceCents),
				money.FormatCents(line.SubtotalCents()),
				money.FormatCents(sale.TotalCents),
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

const (
	salesSheet = "Sales"
	linesSheet = "Lines"
)

// WriteXLSX writes a workbook with a Sales sheet (one row per sale) and a
// Lines sheet (one row per line item).
func WriteXLSX(w io.Writer, sales []domain.SaleRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), salesSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return err
	}

	if err := f.SetSheetRow(salesSheet, "A1", &[]any{"ID", "Reference", "Date", "Total", "Items", "Reversed"}); err != nil {
		return err
	}
	if err := f.SetSheetRow(linesSheet, "A1", &[]any{"Sale ID", "Product", "Quantity", "Unit Price", "Subtotal"}); err != nil {
		return err
	}

	lineRow := 2
	for i, sale := range sales {
		items := 0
		for _, line := range sale.Lines {
			items += line.Quantity
			cell, err := excelize.CoordinatesToCellName(1, lineRow)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(linesSheet, cell, &[]any{
				sale.ID,
				line.ProductName,
				line.Quantity,
				money.Decimal(line.UnitPriceCents).InexactFloat64(),
				money.Decimal(line.SubtotalCents()).InexactFloat64(),
			}); err != nil {
				return err
			}
			lineRow++
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		reversed := "no"
		if sale.Reversed {
			reversed = "yes"
		}
		if err := f.SetSheetRow(salesSheet, cell, &[]any{
			sale.ID,
			sale.Reference,
			sale.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			money.Decimal(sale.TotalCents).InexactFloat64(),
			items,
			reversed,
		}); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}
