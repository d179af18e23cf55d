// Package documenttest provides an in-memory documents.Repository used by
// service tests across the document modules. WithTx snapshots state and
// restores it when the closure fails, mirroring the all-or-nothing commit
// the Postgres repository gets from its transaction.
package documenttest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/drukbooks/drukbooks/internal/documents"
	"github.com/drukbooks/drukbooks/internal/numbering"
	"github.com/drukbooks/drukbooks/internal/shared"
)

// PeriodLock is a locked date range, as created by a filed GST return.
type PeriodLock struct {
	TeamID    int64
	StartDate time.Time
	EndDate   time.Time
}

// MemoryRepo implements documents.Repository in memory.
type MemoryRepo struct {
	Documents    map[int64]documents.Document
	Items        map[int64][]documents.DocumentItem
	Payments     map[int64]documents.Payment
	Applications map[int64]documents.Application
	Sequences    map[string]int64
	Locks        []PeriodLock
	AuditLog     []shared.AuditEntry

	nextDocID   int64
	nextItemID  int64
	nextPayID   int64
	nextAppID   int64
}

// NewMemoryRepo returns an empty repository.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		Documents:    make(map[int64]documents.Document),
		Items:        make(map[int64][]documents.DocumentItem),
		Payments:     make(map[int64]documents.Payment),
		Applications: make(map[int64]documents.Application),
		Sequences:    make(map[string]int64),
	}
}

type memoryTx struct {
	repo *MemoryRepo
}

func (r *MemoryRepo) snapshot() *MemoryRepo {
	clone := NewMemoryRepo()
	for k, v := range r.Documents {
		clone.Documents[k] = v
	}
	for k, v := range r.Items {
		clone.Items[k] = append([]documents.DocumentItem(nil), v...)
	}
	for k, v := range r.Payments {
		clone.Payments[k] = v
	}
	for k, v := range r.Applications {
		clone.Applications[k] = v
	}
	for k, v := range r.Sequences {
		clone.Sequences[k] = v
	}
	clone.Locks = append([]PeriodLock(nil), r.Locks...)
	clone.AuditLog = append([]shared.AuditEntry(nil), r.AuditLog...)
	clone.nextDocID, clone.nextItemID, clone.nextPayID, clone.nextAppID = r.nextDocID, r.nextItemID, r.nextPayID, r.nextAppID
	return clone
}

func (r *MemoryRepo) restore(snap *MemoryRepo) {
	r.Documents = snap.Documents
	r.Items = snap.Items
	r.Payments = snap.Payments
	r.Applications = snap.Applications
	r.Sequences = snap.Sequences
	r.Locks = snap.Locks
	r.AuditLog = snap.AuditLog
	r.nextDocID, r.nextItemID, r.nextPayID, r.nextAppID = snap.nextDocID, snap.nextItemID, snap.nextPayID, snap.nextAppID
}

// WithTx runs fn and rolls every change back if it fails.
func (r *MemoryRepo) WithTx(ctx context.Context, fn func(context.Context, documents.TxRepository) error) error {
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

// SeedDocument inserts a document directly, for test fixtures.
func (r *MemoryRepo) SeedDocument(doc documents.Document) documents.Document {
	if doc.ID == 0 {
		r.nextDocID++
		doc.ID = r.nextDocID
	} else if doc.ID > r.nextDocID {
		r.nextDocID = doc.ID
	}
	r.Documents[doc.ID] = doc
	return doc
}

// SeedPayment inserts a payment directly, for test fixtures.
func (r *MemoryRepo) SeedPayment(p documents.Payment) documents.Payment {
	if p.ID == 0 {
		r.nextPayID++
		p.ID = r.nextPayID
	} else if p.ID > r.nextPayID {
		r.nextPayID = p.ID
	}
	r.Payments[p.ID] = p
	return p
}

func (r *MemoryRepo) GetDocument(ctx context.Context, teamID, id int64) (documents.Document, error) {
	doc, ok := r.Documents[id]
	if !ok || doc.TeamID != teamID {
		return documents.Document{}, shared.ErrNotFound
	}
	return doc, nil
}

func (r *MemoryRepo) ListItems(ctx context.Context, teamID, documentID int64) ([]documents.DocumentItem, error) {
	if _, err := r.GetDocument(ctx, teamID, documentID); err != nil {
		return nil, err
	}
	return append([]documents.DocumentItem(nil), r.Items[documentID]...), nil
}

func (r *MemoryRepo) ListDocumentsByType(ctx context.Context, teamID int64, docType documents.DocType, from, to time.Time) ([]documents.Document, error) {
	var out []documents.Document
	for _, doc := range r.Documents {
		if doc.TeamID != teamID || doc.Type != docType {
			continue
		}
		if doc.IssueDate.Before(from) || doc.IssueDate.After(to) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) GetPayment(ctx context.Context, teamID, id int64) (documents.Payment, error) {
	p, ok := r.Payments[id]
	if !ok || p.TeamID != teamID {
		return documents.Payment{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) ListApplicationsBySource(ctx context.Context, teamID int64, kind documents.ApplicationKind, sourceID int64) ([]documents.Application, error) {
	return (&memoryTx{repo: r}).ListApplicationsBySource(ctx, teamID, kind, sourceID)
}

func (tx *memoryTx) MintNumber(ctx context.Context, teamID int64, docType documents.DocType, date time.Time) (string, error) {
	year := numbering.YearOf(date)
	key := seqKey(teamID, string(docType), year)
	tx.repo.Sequences[key]++
	return numbering.Format(docType.Prefix(), year, tx.repo.Sequences[key]), nil
}

func seqKey(teamID int64, docType string, year int) string {
	return fmt.Sprintf("%d/%s/%d", teamID, docType, year)
}

func (tx *memoryTx) InsertDocument(ctx context.Context, doc *documents.Document) (int64, error) {
	tx.repo.nextDocID++
	doc.ID = tx.repo.nextDocID
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	tx.repo.Documents[doc.ID] = *doc
	return doc.ID, nil
}

func (tx *memoryTx) GetDocumentForUpdate(ctx context.Context, teamID, id int64) (documents.Document, error) {
	return tx.repo.GetDocument(ctx, teamID, id)
}

func (tx *memoryTx) UpdateDocument(ctx context.Context, doc documents.Document) error {
	existing, ok := tx.repo.Documents[doc.ID]
	if !ok || existing.TeamID != doc.TeamID {
		return shared.ErrNotFound
	}
	doc.UpdatedAt = time.Now()
	tx.repo.Documents[doc.ID] = doc
	return nil
}

func (tx *memoryTx) DeleteDraftDocument(ctx context.Context, teamID, id int64) error {
	doc, ok := tx.repo.Documents[id]
	if !ok || doc.TeamID != teamID || doc.Status != documents.StatusDraft {
		return shared.ErrNotFound
	}
	delete(tx.repo.Documents, id)
	delete(tx.repo.Items, id)
	return nil
}

func (tx *memoryTx) ReplaceItems(ctx context.Context, documentID int64, items []documents.DocumentItem) error {
	stored := make([]documents.DocumentItem, len(items))
	for i, it := range items {
		tx.repo.nextItemID++
		it.ID = tx.repo.nextItemID
		it.DocumentID = documentID
		it.CreatedAt = time.Now()
		stored[i] = it
	}
	tx.repo.Items[documentID] = stored
	return nil
}

func (tx *memoryTx) ListItems(ctx context.Context, teamID, documentID int64) ([]documents.DocumentItem, error) {
	return tx.repo.ListItems(ctx, teamID, documentID)
}

func (tx *memoryTx) InsertPayment(ctx context.Context, p *documents.Payment) (int64, error) {
	tx.repo.nextPayID++
	p.ID = tx.repo.nextPayID
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	tx.repo.Payments[p.ID] = *p
	return p.ID, nil
}

func (tx *memoryTx) GetPaymentForUpdate(ctx context.Context, teamID, id int64) (documents.Payment, error) {
	return tx.repo.GetPayment(ctx, teamID, id)
}

func (tx *memoryTx) UpdatePayment(ctx context.Context, p documents.Payment) error {
	existing, ok := tx.repo.Payments[p.ID]
	if !ok || existing.TeamID != p.TeamID {
		return shared.ErrNotFound
	}
	p.UpdatedAt = time.Now()
	tx.repo.Payments[p.ID] = p
	return nil
}

func (tx *memoryTx) InsertApplication(ctx context.Context, a documents.Application) (int64, error) {
	tx.repo.nextAppID++
	a.ID = tx.repo.nextAppID
	a.CreatedAt = time.Now()
	tx.repo.Applications[a.ID] = a
	return a.ID, nil
}

func (tx *memoryTx) DeleteApplication(ctx context.Context, teamID, id int64) error {
	a, ok := tx.repo.Applications[id]
	if !ok || a.TeamID != teamID {
		return shared.ErrNotFound
	}
	delete(tx.repo.Applications, id)
	return nil
}

func (tx *memoryTx) ListApplicationsBySource(ctx context.Context, teamID int64, kind documents.ApplicationKind, sourceID int64) ([]documents.Application, error) {
	var out []documents.Application
	for _, a := range tx.repo.Applications {
		if a.TeamID == teamID && a.Kind == kind && a.SourceID == sourceID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) ListApplicationsByTarget(ctx context.Context, teamID, targetID int64) ([]documents.Application, error) {
	var out []documents.Application
	for _, a := range tx.repo.Applications {
		if a.TeamID == teamID && a.TargetID == targetID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) PeriodLockedAt(ctx context.Context, teamID int64, date time.Time) (bool, error) {
	for _, lock := range tx.repo.Locks {
		if lock.TeamID != teamID {
			continue
		}
		if !date.Before(lock.StartDate) && !date.After(lock.EndDate) {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) AppendAudit(ctx context.Context, entry shared.AuditEntry) error {
	tx.repo.AuditLog = append(tx.repo.AuditLog, entry)
	return nil
}
