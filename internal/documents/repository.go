package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/drukbooks/drukbooks/internal/numbering"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// Repository defines read access to the document family. Every lookup is
// scoped by team; a mismatched team looks exactly like nonexistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetDocument(ctx context.Context, teamID, id int64) (Document, error)
	ListItems(ctx context.Context, teamID, documentID int64) ([]DocumentItem, error)
	ListDocumentsByType(ctx context.Context, teamID int64, docType DocType, from, to time.Time) ([]Document, error)
	GetPayment(ctx context.Context, teamID, id int64) (Payment, error)
	ListApplicationsBySource(ctx context.Context, teamID int64, kind ApplicationKind, sourceID int64) ([]Application, error)
}

// TxRepository defines the mutations available inside one transaction.
// Everything a single operation touches — sequence mint, document rows,
// balances, applications, the audit entry — goes through one TxRepository
// so it commits or rolls back as a unit.
type TxRepository interface {
	MintNumber(ctx context.Context, teamID int64, docType DocType, date time.Time) (string, error)

	InsertDocument(ctx context.Context, doc *Document) (int64, error)
	GetDocumentForUpdate(ctx context.Context, teamID, id int64) (Document, error)
	UpdateDocument(ctx context.Context, doc Document) error
	DeleteDraftDocument(ctx context.Context, teamID, id int64) error
	ReplaceItems(ctx context.Context, documentID int64, items []DocumentItem) error
	ListItems(ctx context.Context, teamID, documentID int64) ([]DocumentItem, error)

	InsertPayment(ctx context.Context, p *Payment) (int64, error)
	GetPaymentForUpdate(ctx context.Context, teamID, id int64) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error

	InsertApplication(ctx context.Context, a Application) (int64, error)
	DeleteApplication(ctx context.Context, teamID, id int64) error
	ListApplicationsBySource(ctx context.Context, teamID int64, kind ApplicationKind, sourceID int64) ([]Application, error)
	ListApplicationsByTarget(ctx context.Context, teamID, targetID int64) ([]Application, error)

	PeriodLockedAt(ctx context.Context, teamID int64, date time.Time) (bool, error)
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

const documentColumns = `id, team_id, doc_type, number, counterparty_id, issue_date, due_date, currency,
subtotal, total_discount, total_tax, total_amount, amount_paid, amount_due, applied_amount, unapplied_amount,
status, payment_status, is_locked, linked_document_id, notes, cancel_reason, cancelled_by, valid_until,
created_by, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.TeamID, &d.Type, &d.Number, &d.CounterpartyID, &d.IssueDate, &d.DueDate, &d.Currency,
		&d.Subtotal, &d.TotalDiscount, &d.TotalTax, &d.TotalAmount, &d.AmountPaid, &d.AmountDue, &d.AppliedAmount, &d.UnappliedAmount,
		&d.Status, &d.PaymentStatus, &d.IsLocked, &d.LinkedDocumentID, &d.Notes, &d.CancelReason, &d.CancelledBy, &d.ValidUntil,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, shared.ErrNotFound
		}
		return Document{}, err
	}
	return d, nil
}

func (r *pgRepository) GetDocument(ctx context.Context, teamID, id int64) (Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 AND team_id=$2`, id, teamID)
	return scanDocument(row)
}

func (r *pgRepository) ListItems(ctx context.Context, teamID, documentID int64) ([]DocumentItem, error) {
	return listItems(ctx, r.pool, teamID, documentID)
}

func (r *pgRepository) ListDocumentsByType(ctx context.Context, teamID int64, docType DocType, from, to time.Time) ([]Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents
WHERE team_id=$1 AND doc_type=$2 AND issue_date >= $3 AND issue_date <= $4 ORDER BY issue_date, id`,
		teamID, docType, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

const paymentColumns = `id, team_id, number, counterparty_id, target_type, amount, allocated_amount, unallocated_amount,
paid_at, method, note, reversed_at, reversed_reason, created_by, created_at, updated_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.TeamID, &p.Number, &p.CounterpartyID, &p.TargetType, &p.Amount, &p.AllocatedAmount, &p.UnallocatedAmount,
		&p.PaidAt, &p.Method, &p.Note, &p.ReversedAt, &p.ReversedReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, shared.ErrNotFound
		}
		return Payment{}, err
	}
	return p, nil
}

func (r *pgRepository) GetPayment(ctx context.Context, teamID, id int64) (Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 AND team_id=$2`, id, teamID)
	return scanPayment(row)
}

func (r *pgRepository) ListApplicationsBySource(ctx context.Context, teamID int64, kind ApplicationKind, sourceID int64) ([]Application, error) {
	return listApplications(ctx, r.pool, `SELECT id, team_id, kind, source_id, target_id, amount, created_at
FROM applications WHERE team_id=$1 AND kind=$2 AND source_id=$3 ORDER BY id`, teamID, kind, sourceID)
}

// queryer is satisfied by both pgxpool.Pool and pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listItems(ctx context.Context, q queryer, teamID, documentID int64) ([]DocumentItem, error) {
	rows, err := q.Query(ctx, `SELECT i.id, i.document_id, i.description, i.quantity, i.unit_price, i.discount_percent,
i.tax_rate, i.is_tax_exempt, i.gst_classification, i.line_total, i.discount_amount, i.tax_amount, i.item_total, i.line_order, i.created_at
FROM document_items i JOIN documents d ON d.id = i.document_id
WHERE i.document_id=$1 AND d.team_id=$2 ORDER BY i.line_order, i.id`, documentID, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DocumentItem
	for rows.Next() {
		var it DocumentItem
		if err := rows.Scan(&it.ID, &it.DocumentID, &it.Description, &it.Quantity, &it.UnitPrice, &it.DiscountPercent,
			&it.TaxRate, &it.IsTaxExempt, &it.Classification, &it.LineTotal, &it.DiscountAmount, &it.TaxAmount, &it.ItemTotal, &it.LineOrder, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func listApplications(ctx context.Context, q queryer, sql string, args ...any) ([]Application, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var apps []Application
	for rows.Next() {
		var a Application
		if err := rows.Scan(&a.ID, &a.TeamID, &a.Kind, &a.SourceID, &a.TargetID, &a.Amount, &a.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

type pgTxRepository struct {
	tx    pgx.Tx
	audit *shared.AuditLogger
}

func (r *pgTxRepository) MintNumber(ctx context.Context, teamID int64, docType DocType, date time.Time) (string, error) {
	year := numbering.YearOf(date)
	n, err := numbering.Next(ctx, r.tx, teamID, string(docType), year)
	if err != nil {
		return "", err
	}
	return numbering.Format(docType.Prefix(), year, n), nil
}

func (r *pgTxRepository) InsertDocument(ctx context.Context, doc *Document) (int64, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO documents (team_id, doc_type, number, counterparty_id, issue_date, due_date, currency,
subtotal, total_discount, total_tax, total_amount, amount_paid, amount_due, applied_amount, unapplied_amount,
status, payment_status, is_locked, linked_document_id, notes, valid_until, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
RETURNING id, created_at, updated_at`,
		doc.TeamID, doc.Type, doc.Number, doc.CounterpartyID, doc.IssueDate, doc.DueDate, doc.Currency,
		doc.Subtotal, doc.TotalDiscount, doc.TotalTax, doc.TotalAmount, doc.AmountPaid, doc.AmountDue,
		doc.AppliedAmount, doc.UnappliedAmount, doc.Status, doc.PaymentStatus, doc.IsLocked,
		doc.LinkedDocumentID, doc.Notes, doc.ValidUntil, doc.CreatedBy).
		Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", doc.Type, err)
	}
	return doc.ID, nil
}

func (r *pgTxRepository) GetDocumentForUpdate(ctx context.Context, teamID, id int64) (Document, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1 AND team_id=$2 FOR UPDATE`, id, teamID)
	return scanDocument(row)
}

func (r *pgTxRepository) UpdateDocument(ctx context.Context, doc Document) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE documents SET counterparty_id=$3, issue_date=$4, due_date=$5, currency=$6,
subtotal=$7, total_discount=$8, total_tax=$9, total_amount=$10, amount_paid=$11, amount_due=$12,
applied_amount=$13, unapplied_amount=$14, status=$15, payment_status=$16, is_locked=$17,
linked_document_id=$18, notes=$19, cancel_reason=$20, cancelled_by=$21, valid_until=$22, updated_at=NOW()
WHERE id=$1 AND team_id=$2`,
		doc.ID, doc.TeamID, doc.CounterpartyID, doc.IssueDate, doc.DueDate, doc.Currency,
		doc.Subtotal, doc.TotalDiscount, doc.TotalTax, doc.TotalAmount, doc.AmountPaid, doc.AmountDue,
		doc.AppliedAmount, doc.UnappliedAmount, doc.Status, doc.PaymentStatus, doc.IsLocked,
		doc.LinkedDocumentID, doc.Notes, doc.CancelReason, doc.CancelledBy, doc.ValidUntil)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *pgTxRepository) DeleteDraftDocument(ctx context.Context, teamID, id int64) error {
	// Items cascade with the document while it is still a draft.
	cmd, err := r.tx.Exec(ctx, `DELETE FROM documents WHERE id=$1 AND team_id=$2 AND status='draft'`, id, teamID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *pgTxRepository) ReplaceItems(ctx context.Context, documentID int64, items []DocumentItem) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_items WHERE document_id=$1`, documentID); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO document_items (document_id, description, quantity, unit_price, discount_percent,
tax_rate, is_tax_exempt, gst_classification, line_total, discount_amount, tax_amount, item_total, line_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			documentID, it.Description, it.Quantity, it.UnitPrice, it.DiscountPercent,
			it.TaxRate, it.IsTaxExempt, it.Classification, it.LineTotal, it.DiscountAmount, it.TaxAmount, it.ItemTotal, it.LineOrder); err != nil {
			return err
		}
	}
	return nil
}

func (r *pgTxRepository) ListItems(ctx context.Context, teamID, documentID int64) ([]DocumentItem, error) {
	return listItems(ctx, r.tx, teamID, documentID)
}

func (r *pgTxRepository) InsertPayment(ctx context.Context, p *Payment) (int64, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO payments (team_id, number, counterparty_id, target_type, amount,
allocated_amount, unallocated_amount, paid_at, method, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id, created_at, updated_at`,
		p.TeamID, p.Number, p.CounterpartyID, p.TargetType, p.Amount,
		p.AllocatedAmount, p.UnallocatedAmount, p.PaidAt, p.Method, p.Note, p.CreatedBy).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}
	return p.ID, nil
}

func (r *pgTxRepository) GetPaymentForUpdate(ctx context.Context, teamID, id int64) (Payment, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1 AND team_id=$2 FOR UPDATE`, id, teamID)
	return scanPayment(row)
}

func (r *pgTxRepository) UpdatePayment(ctx context.Context, p Payment) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE payments SET allocated_amount=$3, unallocated_amount=$4,
reversed_at=$5, reversed_reason=$6, updated_at=NOW() WHERE id=$1 AND team_id=$2`,
		p.ID, p.TeamID, p.AllocatedAmount, p.UnallocatedAmount, p.ReversedAt, p.ReversedReason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *pgTxRepository) InsertApplication(ctx context.Context, a Application) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO applications (team_id, kind, source_id, target_id, amount)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, a.TeamID, a.Kind, a.SourceID, a.TargetID, a.Amount).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert application: %w", err)
	}
	return id, nil
}

func (r *pgTxRepository) DeleteApplication(ctx context.Context, teamID, id int64) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM applications WHERE id=$1 AND team_id=$2`, id, teamID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *pgTxRepository) ListApplicationsBySource(ctx context.Context, teamID int64, kind ApplicationKind, sourceID int64) ([]Application, error) {
	return listApplications(ctx, r.tx, `SELECT id, team_id, kind, source_id, target_id, amount, created_at
FROM applications WHERE team_id=$1 AND kind=$2 AND source_id=$3 ORDER BY id`, teamID, kind, sourceID)
}

func (r *pgTxRepository) ListApplicationsByTarget(ctx context.Context, teamID, targetID int64) ([]Application, error) {
	return listApplications(ctx, r.tx, `SELECT id, team_id, kind, source_id, target_id, amount, created_at
FROM applications WHERE team_id=$1 AND target_id=$2 ORDER BY id`, teamID, targetID)
}

func (r *pgTxRepository) PeriodLockedAt(ctx context.Context, teamID int64, date time.Time) (bool, error) {
	var locked bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM period_locks WHERE team_id=$1 AND $2 BETWEEN start_date AND end_date)`,
		teamID, date).Scan(&locked)
	if err != nil {
		return false, err
	}
	return locked, nil
}

func (r *pgTxRepository) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	return r.audit.Record(ctx, r.tx, entry)
}
