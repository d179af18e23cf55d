package documents

import (
	"github.com/drukbooks/drukbooks/internal/shared"
)

// transitions is the per-type table of allowed status changes. Concrete
// document types supply their vocabulary as data; side effects live in the
// services that drive the transition.
var transitions = map[DocType]map[Status][]Status{
	DocTypeInvoice: {
		StatusDraft:     {StatusSent, StatusCancelled},
		StatusSent:      {StatusPaid, StatusCancelled},
		StatusPaid:      {StatusCancelled},
		StatusCancelled: {},
	},
	DocTypeBill: {
		StatusDraft:     {StatusIssued, StatusCancelled},
		StatusIssued:    {StatusPaid, StatusCancelled},
		StatusPaid:      {StatusCancelled},
		StatusCancelled: {},
	},
	DocTypeCreditNote: noteTransitions,
	DocTypeDebitNote:  noteTransitions,
	DocTypeQuotation: {
		StatusDraft:     {StatusSent, StatusCancelled},
		StatusSent:      {StatusAccepted, StatusRejected, StatusExpired},
		StatusAccepted:  {StatusConverted},
		StatusRejected:  {},
		StatusExpired:   {},
		StatusConverted: {},
		StatusCancelled: {},
	},
}

// partial and applied swing both ways as applications are made and
// reversed; refunded and cancelled are terminal.
var noteTransitions = map[Status][]Status{
	StatusDraft:     {StatusIssued, StatusCancelled},
	StatusIssued:    {StatusPartial, StatusApplied, StatusRefunded, StatusCancelled},
	StatusPartial:   {StatusApplied, StatusIssued, StatusRefunded},
	StatusApplied:   {StatusPartial, StatusIssued},
	StatusRefunded:  {},
	StatusCancelled: {},
}

// CanTransition reports whether a document of type t may move from one
// status to another.
func CanTransition(t DocType, from, to Status) bool {
	table, ok := transitions[t]
	if !ok {
		return false
	}
	for _, allowed := range table[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change on the document,
// locking it when it leaves draft. Terminal states are never reopened.
func Transition(doc *Document, to Status) error {
	if !CanTransition(doc.Type, doc.Status, to) {
		return shared.TransitionError(string(doc.Status), string(to))
	}
	doc.Status = to
	if to != StatusDraft {
		doc.IsLocked = true
	}
	return nil
}

// CanEditItems reports whether the item set may still be replaced.
func CanEditItems(doc *Document) bool {
	return doc.Status == StatusDraft
}
