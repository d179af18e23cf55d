package documents

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drukbooks/drukbooks/internal/shared"
)

func TestTransitionLocksOnLeavingDraft(t *testing.T) {
	doc := &Document{Type: DocTypeInvoice, Status: StatusDraft}
	require.NoError(t, Transition(doc, StatusSent))
	require.Equal(t, StatusSent, doc.Status)
	require.True(t, doc.IsLocked)
	require.False(t, CanEditItems(doc))
}

func TestIssuingTwiceFails(t *testing.T) {
	note := &Document{Type: DocTypeCreditNote, Status: StatusDraft}
	require.NoError(t, Transition(note, StatusIssued))

	err := Transition(note, StatusIssued)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Contains(t, err.Error(), "issued -> issued")
}

func TestTerminalStatesNeverReopen(t *testing.T) {
	for _, tc := range []struct {
		docType DocType
		from    Status
	}{
		{DocTypeInvoice, StatusCancelled},
		{DocTypeCreditNote, StatusRefunded},
		{DocTypeCreditNote, StatusCancelled},
		{DocTypeQuotation, StatusRejected},
		{DocTypeQuotation, StatusExpired},
		{DocTypeQuotation, StatusConverted},
	} {
		doc := &Document{Type: tc.docType, Status: tc.from}
		require.ErrorIs(t, Transition(doc, StatusDraft), shared.ErrInvalidTransition,
			"%s must not leave %s", tc.docType, tc.from)
	}
}

func TestQuotationConversionPath(t *testing.T) {
	q := &Document{Type: DocTypeQuotation, Status: StatusDraft}
	require.NoError(t, Transition(q, StatusSent))
	require.NoError(t, Transition(q, StatusAccepted))
	require.NoError(t, Transition(q, StatusConverted))

	// Converting again, or converting from a non-accepted state, fails.
	require.ErrorIs(t, Transition(q, StatusConverted), shared.ErrInvalidTransition)
	sent := &Document{Type: DocTypeQuotation, Status: StatusSent}
	require.ErrorIs(t, Transition(sent, StatusConverted), shared.ErrInvalidTransition)
}

func TestBillPath(t *testing.T) {
	b := &Document{Type: DocTypeBill, Status: StatusDraft}
	require.NoError(t, Transition(b, StatusIssued))
	require.NoError(t, Transition(b, StatusPaid))
	require.NoError(t, Transition(b, StatusCancelled))
}
