package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Document numbers are per team, per document type, per calendar year, and
// dense: for a given (team, type, year) the issued set is exactly
// {1..lastNumber}. The sequence row is the only concurrency-critical
// resource in the system; the row lock taken by the upsert below serialises
// concurrent minters, and because the mint happens inside the caller's
// transaction, a failed document insert rolls the increment back with it —
// no gaps.

// Row is one sequence counter.
type Row struct {
	TeamID     int64
	DocType    string
	Year       int
	LastNumber int64
}

// Querier is the slice of pgx.Tx the minting statement needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Next increments and returns the counter for (teamID, docType, year)
// within the caller's transaction. The upsert acquires a row-level
// exclusive lock, so two concurrent requests can never mint the same
// number; the second blocks until the first commits or rolls back.
func Next(ctx context.Context, tx Querier, teamID int64, docType string, year int) (int64, error) {
	var n int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sequences (team_id, doc_type, year, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (team_id, doc_type, year)
		DO UPDATE SET last_number = sequences.last_number + 1, updated_at = NOW()
		RETURNING last_number`,
		teamID, docType, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("mint sequence %s/%d for team %d: %w", docType, year, teamID, err)
	}
	return n, nil
}

// Format renders a minted number as PREFIX-YYYY-NNNN. Numbers beyond 9999
// simply grow wider.
func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, n)
}

// YearOf returns the sequence year for a document date.
func YearOf(date time.Time) int {
	return date.Year()
}

// ReturnNumber renders a GST return number for the period granularity:
// GST-2026-03 (monthly), GST-2026-Q1 (quarterly), GST-2026-ANNUAL.
func ReturnNumber(year int, granularity string, ordinal int) string {
	switch granularity {
	case "monthly":
		return fmt.Sprintf("GST-%d-%02d", year, ordinal)
	case "quarterly":
		return fmt.Sprintf("GST-%d-Q%d", year, ordinal)
	default:
		return fmt.Sprintf("GST-%d-ANNUAL", year)
	}
}
