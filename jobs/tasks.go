package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeDocumentReceipt is the task type for document receipt and
	// payment confirmation emails.
	TaskTypeDocumentReceipt = "mail:document-receipt"
)

// DocumentReceiptPayload describes a receipt email for an issued document
// or recorded payment.
type DocumentReceiptPayload struct {
	TeamID         int64  `json:"team_id"`
	DocumentNumber string `json:"document_number"`
	Action         string `json:"action"`
	Recipient      string `json:"recipient"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// NewDocumentReceiptTask constructs an Asynq task.
func NewDocumentReceiptTask(payload DocumentReceiptPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDocumentReceipt, data, asynq.Queue(QueueDefault)), nil
}

// Mailer sends a single message. SMTP in production, a recorder in tests.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	Addr string
	From string
}

// Send delivers the message.
func (m SMTPMailer) Send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.From, to, subject, body)
	return smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg))
}

// ReceiptHandler processes TaskTypeDocumentReceipt tasks. Delivery failures
// are retried by asynq; they never affect the financial transaction that
// enqueued them, which committed long before this runs.
type ReceiptHandler struct {
	Logger *slog.Logger
	Mailer Mailer
}

// ProcessTask implements asynq.Handler.
func (h *ReceiptHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload DocumentReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode receipt payload: %w", asynq.SkipRetry)
	}
	if payload.Recipient == "" {
		h.Logger.Warn("receipt task without recipient, dropping",
			slog.String("document", payload.DocumentNumber))
		return nil
	}
	if err := h.Mailer.Send(payload.Recipient, payload.Subject, payload.Body); err != nil {
		return fmt.Errorf("send receipt for %s: %w", payload.DocumentNumber, err)
	}
	h.Logger.Info("receipt sent",
		slog.String("document", payload.DocumentNumber),
		slog.String("action", payload.Action))
	return nil
}
