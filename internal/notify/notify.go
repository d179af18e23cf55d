// Package notify dispatches post-commit notifications. The dispatcher is
// called strictly after the surrounding transaction committed, and its
// failures are logged and swallowed: an email that cannot be queued must
// never undo a financial mutation.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/drukbooks/drukbooks/jobs"
)

// Enqueuer is the slice of asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher enqueues receipt emails onto the jobs queue.
type Dispatcher struct {
	client Enqueuer
	logger *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client Enqueuer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{client: client, logger: logger}
}

// DocumentIssued queues a receipt for a freshly issued document.
func (d *Dispatcher) DocumentIssued(ctx context.Context, teamID int64, number, recipient string) {
	d.enqueue(ctx, jobs.DocumentReceiptPayload{
		TeamID:         teamID,
		DocumentNumber: number,
		Action:         "issued",
		Recipient:      recipient,
		Subject:        fmt.Sprintf("Document %s issued", number),
		Body:           fmt.Sprintf("Document %s has been issued.", number),
	})
}

// PaymentRecorded queues a confirmation for a recorded payment.
func (d *Dispatcher) PaymentRecorded(ctx context.Context, teamID int64, number, recipient string) {
	d.enqueue(ctx, jobs.DocumentReceiptPayload{
		TeamID:         teamID,
		DocumentNumber: number,
		Action:         "payment-recorded",
		Recipient:      recipient,
		Subject:        fmt.Sprintf("Payment %s received", number),
		Body:           fmt.Sprintf("Payment %s has been recorded.", number),
	})
}

func (d *Dispatcher) enqueue(ctx context.Context, payload jobs.DocumentReceiptPayload) {
	if d == nil || d.client == nil {
		return
	}
	task, err := jobs.NewDocumentReceiptTask(payload)
	if err != nil {
		d.logger.Error("build receipt task", slog.Any("error", err))
		return
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		d.logger.Error("enqueue receipt task",
			slog.String("document", payload.DocumentNumber),
			slog.Any("error", err))
	}
}
