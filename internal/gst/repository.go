package gst

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drukbooks/drukbooks/internal/shared"
)

// Repository defines read access to GST returns and period locks.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetReturn(ctx context.Context, teamID, id int64) (Return, error)
	ListReturns(ctx context.Context, teamID int64) ([]Return, error)
	ListAmendments(ctx context.Context, teamID, returnID int64) ([]Amendment, error)
	AnyLockOverlapping(ctx context.Context, teamID int64, start, end time.Time) (bool, error)
}

// TxRepository defines the mutations available inside one transaction.
type TxRepository interface {
	InsertReturn(ctx context.Context, r *Return) (int64, error)
	GetReturnForUpdate(ctx context.Context, teamID, id int64) (Return, error)
	UpdateReturn(ctx context.Context, r Return) error
	InsertAmendment(ctx context.Context, a Amendment) (int64, error)
	InsertPeriodLock(ctx context.Context, lock PeriodLock) (int64, error)
	AnyLockOverlapping(ctx context.Context, teamID int64, start, end time.Time) (bool, error)
	AppendAudit(ctx context.Context, entry shared.AuditEntry) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

// NewRepository constructs the Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool, audit *shared.AuditLogger) Repository {
	return &pgRepository{pool: pool, audit: audit}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	wrapper := &pgTxRepository{tx: tx, audit: r.audit}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return shared.MapPgError(err)
	}
	return shared.MapPgError(tx.Commit(ctx))
}

const returnColumns = `id, team_id, number, granularity, period_start, period_end,
output_gst, input_gst, net_gst_payable, sales_breakdown, purchases_breakdown,
adjustments, previous_period_balance, penalties, interest, total_payable,
status, filed_at, filed_by, created_by, created_at, updated_at`

func scanReturn(row pgx.Row) (Return, error) {
	var ret Return
	var sales, purchases []byte
	err := row.Scan(&ret.ID, &ret.TeamID, &ret.Number, &ret.Granularity, &ret.PeriodStart, &ret.PeriodEnd,
		&ret.OutputGst, &ret.InputGst, &ret.NetGstPayable, &sales, &purchases,
		&ret.Adjustments, &ret.PreviousPeriodBalance, &ret.Penalties, &ret.Interest, &ret.TotalPayable,
		&ret.Status, &ret.FiledAt, &ret.FiledBy, &ret.CreatedBy, &ret.CreatedAt, &ret.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Return{}, shared.ErrNotFound
		}
		return Return{}, err
	}
	if err := json.Unmarshal(sales, &ret.SalesBreakdown); err != nil {
		return Return{}, fmt.Errorf("decode sales breakdown: %w", err)
	}
	if err := json.Unmarshal(purchases, &ret.PurchasesBreakdown); err != nil {
		return Return{}, fmt.Errorf("decode purchases breakdown: %w", err)
	}
	return ret, nil
}

func (r *pgRepository) GetReturn(ctx context.Context, teamID, id int64) (Return, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM gst_returns WHERE id=$1 AND team_id=$2`, id, teamID)
	return scanReturn(row)
}

func (r *pgRepository) ListReturns(ctx context.Context, teamID int64) ([]Return, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+returnColumns+` FROM gst_returns
WHERE team_id=$1 ORDER BY period_start DESC, id DESC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Return
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ret)
	}
	return out, rows.Err()
}

func (r *pgRepository) ListAmendments(ctx context.Context, teamID, returnID int64) ([]Amendment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, return_id, team_id, user_id, reason, before_adjustment, after_adjustment, created_at
FROM gst_return_amendments WHERE team_id=$1 AND return_id=$2 ORDER BY id`, teamID, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Amendment
	for rows.Next() {
		var a Amendment
		if err := rows.Scan(&a.ID, &a.ReturnID, &a.TeamID, &a.UserID, &a.Reason, &a.BeforeAdjustment, &a.AfterAdjustment, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *pgRepository) AnyLockOverlapping(ctx context.Context, teamID int64, start, end time.Time) (bool, error) {
	return anyLockOverlapping(ctx, r.pool, teamID, start, end)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func anyLockOverlapping(ctx context.Context, q queryer, teamID int64, start, end time.Time) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM period_locks WHERE team_id=$1 AND start_date <= $3 AND end_date >= $2)`,
		teamID, start, end).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

type pgTxRepository struct {
	tx    pgx.Tx
	audit *shared.AuditLogger
}

func (t *pgTxRepository) InsertReturn(ctx context.Context, ret *Return) (int64, error) {
	sales, err := json.Marshal(ret.SalesBreakdown)
	if err != nil {
		return 0, fmt.Errorf("encode sales breakdown: %w", err)
	}
	purchases, err := json.Marshal(ret.PurchasesBreakdown)
	if err != nil {
		return 0, fmt.Errorf("encode purchases breakdown: %w", err)
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO gst_returns
(team_id, number, granularity, period_start, period_end,
 output_gst, input_gst, net_gst_payable, sales_breakdown, purchases_breakdown,
 adjustments, previous_period_balance, penalties, interest, total_payable,
 status, filed_at, filed_by, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		ret.TeamID, ret.Number, ret.Granularity, ret.PeriodStart, ret.PeriodEnd,
		ret.OutputGst, ret.InputGst, ret.NetGstPayable, sales, purchases,
		ret.Adjustments, ret.PreviousPeriodBalance, ret.Penalties, ret.Interest, ret.TotalPayable,
		ret.Status, ret.FiledAt, ret.FiledBy, ret.CreatedBy).
		Scan(&ret.ID, &ret.CreatedAt, &ret.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert gst return %s: %w", ret.Number, err)
	}
	return ret.ID, nil
}

func (t *pgTxRepository) GetReturnForUpdate(ctx context.Context, teamID, id int64) (Return, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM gst_returns WHERE id=$1 AND team_id=$2 FOR UPDATE`, id, teamID)
	return scanReturn(row)
}

func (t *pgTxRepository) UpdateReturn(ctx context.Context, ret Return) error {
	sales, err := json.Marshal(ret.SalesBreakdown)
	if err != nil {
		return fmt.Errorf("encode sales breakdown: %w", err)
	}
	purchases, err := json.Marshal(ret.PurchasesBreakdown)
	if err != nil {
		return fmt.Errorf("encode purchases breakdown: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE gst_returns SET
output_gst=$3, input_gst=$4, net_gst_payable=$5, sales_breakdown=$6, purchases_breakdown=$7,
adjustments=$8, previous_period_balance=$9, penalties=$10, interest=$11, total_payable=$12,
status=$13, filed_at=$14, filed_by=$15, updated_at=NOW()
WHERE id=$1 AND team_id=$2`,
		ret.ID, ret.TeamID,
		ret.OutputGst, ret.InputGst, ret.NetGstPayable, sales, purchases,
		ret.Adjustments, ret.PreviousPeriodBalance, ret.Penalties, ret.Interest, ret.TotalPayable,
		ret.Status, ret.FiledAt, ret.FiledBy)
	if err != nil {
		return fmt.Errorf("update gst return %s: %w", ret.Number, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *pgTxRepository) InsertAmendment(ctx context.Context, a Amendment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO gst_return_amendments
(return_id, team_id, user_id, reason, before_adjustment, after_adjustment, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		a.ReturnID, a.TeamID, a.UserID, a.Reason, a.BeforeAdjustment, a.AfterAdjustment).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert amendment for return %d: %w", a.ReturnID, err)
	}
	return id, nil
}

func (t *pgTxRepository) InsertPeriodLock(ctx context.Context, lock PeriodLock) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO period_locks
(team_id, return_id, start_date, end_date, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`,
		lock.TeamID, lock.ReturnID, lock.StartDate, lock.EndDate).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert period lock for return %d: %w", lock.ReturnID, err)
	}
	return id, nil
}

func (t *pgTxRepository) AnyLockOverlapping(ctx context.Context, teamID int64, start, end time.Time) (bool, error) {
	return anyLockOverlapping(ctx, t.tx, teamID, start, end)
}

func (t *pgTxRepository) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	return t.audit.Record(ctx, t.tx, entry)
}
