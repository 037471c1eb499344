// Package export writes the deployment register to spreadsheets (Google Sheets or XLSX).
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/tokenize/internal/domain"
)

// SheetName is the tab that holds the deployment register.
const SheetName = "DEPLOYMENTS"

// DefaultLimit bounds the number of deployments exported at once.
const DefaultLimit = 1000

// Header lists the register columns in order.
var Header = []any{
	"ID", "Created", "Asset", "Issuer", "Distributor",
	"Total Value", "Total Supply", "Min Investment", "Price",
	"Status", "Last State", "Tx Hash", "Ledger",
	"Reason", "Error Code", "Op Index", "Updated",
}

// Source lists deployment records.
type Source interface {
	List(ctx context.Context, limit int) ([]domain.Deployment, error)
}

// SheetWriter writes the register rows, header first, to a spreadsheet destination.
type SheetWriter interface {
	Write(ctx context.Context, rows [][]any) error
}

// Service reads deployments and delegates writing to a SheetWriter.
type Service struct {
	source Source
	writer SheetWriter
	limit  int
}

// NewService creates a new export Service.
func NewService(source Source, writer SheetWriter) *Service {
	return &Service{source: source, writer: writer, limit: DefaultLimit}
}

// Export rewrites the register with the latest deployments.
// Implements worker.AfterPassHook.
func (s *Service) Export(ctx context.Context) error {
	deployments, err := s.source.List(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("listing deployments: %w", err)
	}
	if err := s.writer.Write(ctx, BuildRows(deployments)); err != nil {
		return fmt.Errorf("writing register: %w", err)
	}
	return nil
}

// BuildRows renders deployments as spreadsheet rows, preceded by the header.
func BuildRows(deployments []domain.Deployment) [][]any {
	rows := make([][]any, 0, len(deployments)+1)
	rows = append(rows, Header)
	return append(rows, lo.Map(deployments, func(d domain.Deployment, _ int) []any {
		return buildRow(d)
	})...)
}

func buildRow(d domain.Deployment) []any {
	var price any
	if d.TotalSupply.IsPositive() {
		price = toFloat(d.TotalValue.DivRound(d.TotalSupply, 2))
	}
	var ledger, opIndex any
	if d.Ledger > 0 {
		ledger = int64(d.Ledger)
	}
	if d.OperationIndex != nil {
		opIndex = int64(*d.OperationIndex)
	}
	return []any{
		d.ID.String(),
		formatTime(d.CreatedAt),
		d.AssetCode,
		d.Issuer,
		d.Distributor,
		toFloat(d.TotalValue),
		// string keeps all seven decimal places
		d.TotalSupply.String(),
		toFloat(d.MinInvestment),
		price,
		string(d.Status),
		string(d.Phase),
		d.TransactionHash,
		ledger,
		d.Reason,
		d.ErrorCode,
		opIndex,
		formatTime(d.UpdatedAt),
	}
}

// columnName converts a 1-based column number to its letter name (1 -> A, 27 -> AA).
func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
