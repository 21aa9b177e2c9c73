package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger record.
type TransactionType string

const (
	TypePaymentReceived   TransactionType = "payment_received"
	TypeInvoiceCreated    TransactionType = "invoice_created"
	TypeInvoiceUpdated    TransactionType = "invoice_updated"
	TypeInvoicePaid       TransactionType = "invoice_paid"
	TypeCommissionCreated TransactionType = "commission_created"
	TypeCommissionPaid    TransactionType = "commission_paid"
	TypeExpenseRecorded   TransactionType = "expense_recorded"
	TypeRefundIssued      TransactionType = "refund_issued"
	TypeFundAllocated     TransactionType = "fund_allocated"
	TypeSupplierPayment   TransactionType = "supplier_payment"
)

// AllTransactionTypes lists every type in a stable order.
var AllTransactionTypes = []TransactionType{
	TypePaymentReceived,
	TypeInvoiceCreated,
	TypeInvoiceUpdated,
	TypeInvoicePaid,
	TypeCommissionCreated,
	TypeCommissionPaid,
	TypeExpenseRecorded,
	TypeRefundIssued,
	TypeFundAllocated,
	TypeSupplierPayment,
}

// Polarity is the direction of money movement a type represents.
type Polarity int

const (
	// PolarityNone marks state changes that move no money.
	PolarityNone Polarity = iota
	PolarityIn
	PolarityOut
)

var typePolarity = map[TransactionType]Polarity{
	TypePaymentReceived:   PolarityIn,
	TypeInvoicePaid:       PolarityIn,
	TypeInvoiceCreated:    PolarityNone,
	TypeInvoiceUpdated:    PolarityNone,
	TypeCommissionCreated: PolarityNone,
	TypeCommissionPaid:    PolarityOut,
	TypeExpenseRecorded:   PolarityOut,
	TypeRefundIssued:      PolarityOut,
	TypeFundAllocated:     PolarityOut,
	TypeSupplierPayment:   PolarityOut,
}

// IsValid reports whether t belongs to the closed set of types.
func (t TransactionType) IsValid() bool {
	_, ok := typePolarity[t]
	return ok
}

// Polarity returns the money direction of t.
func (t TransactionType) Polarity() Polarity {
	return typePolarity[t]
}

// TransactionStatus is the lifecycle state of a record.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
)

// IsValid reports whether s is a known status.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// EntityKind names the business entity a record refers to.
type EntityKind string

const (
	EntityQuote      EntityKind = "quote"
	EntityInvoice    EntityKind = "invoice"
	EntityPayment    EntityKind = "payment"
	EntityCommission EntityKind = "commission"
	EntityExpense    EntityKind = "expense"
	EntityAgent      EntityKind = "agent"
	EntityCustomer   EntityKind = "customer"
)

// AllEntityKinds lists every entity kind.
var AllEntityKinds = []EntityKind{
	EntityQuote,
	EntityInvoice,
	EntityPayment,
	EntityCommission,
	EntityExpense,
	EntityAgent,
	EntityCustomer,
}

// IsValid reports whether k is a known entity kind.
func (k EntityKind) IsValid() bool {
	for _, known := range AllEntityKinds {
		if k == known {
			return true
		}
	}
	return false
}

// EntityRef is a weak reference to a business entity owned elsewhere.
// The ledger never cascades anything through it.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// Transaction is one immutable fact in the ledger. Only Status,
// StatusChangedAt and Version change after creation.
type Transaction struct {
	Timestamp           time.Time
	StatusChangedAt     *time.Time
	PreviousState       *Blob
	NewState            *Blob
	Metadata            *Blob
	ID                  string
	Type                TransactionType
	Status              TransactionStatus
	Currency            string
	Description         string
	PerformedBy         string
	Notes               string
	ReversalOf          string
	Amount              decimal.Decimal
	RelatedEntities     []EntityRef
	RelatedTransactions []string
	Version             int64
}

// IsReversal reports whether the record compensates another one.
func (t *Transaction) IsReversal() bool {
	return t.ReversalOf != ""
}

// IsSettled reports whether the record can no longer change. Failed and
// reversed records are terminal, and reversals cannot themselves be reversed.
func (t *Transaction) IsSettled() bool {
	switch {
	case t.Status == StatusFailed, t.Status == StatusReversed:
		return true
	case t.IsReversal() && t.Status == StatusCompleted:
		return true
	}
	return false
}

// ExpectedPolarity is the sign the amount must carry. Reversals carry
// the opposite sign of their type.
func (t *Transaction) ExpectedPolarity() Polarity {
	p := t.Type.Polarity()
	if !t.IsReversal() {
		return p
	}

	switch p {
	case PolarityIn:
		return PolarityOut
	case PolarityOut:
		return PolarityIn
	}
	return p
}

// CountsTowardsCashFlow reports whether the record contributes to money totals.
// Reversed originals and their reversals are both left out so the pair nets to zero.
func (t *Transaction) CountsTowardsCashFlow() bool {
	return t.Status == StatusCompleted && !t.IsReversal() && t.Type.Polarity() != PolarityNone
}

// HasEntity reports whether the record references the given entity.
func (t *Transaction) HasEntity(kind EntityKind, id string) bool {
	for _, ref := range t.RelatedEntities {
		if ref.Kind == kind && ref.ID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never hand out shared state.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}

	c := *t
	if t.StatusChangedAt != nil {
		at := *t.StatusChangedAt
		c.StatusChangedAt = &at
	}
	c.PreviousState = t.PreviousState.Clone()
	c.NewState = t.NewState.Clone()
	c.Metadata = t.Metadata.Clone()
	if t.RelatedEntities != nil {
		c.RelatedEntities = append([]EntityRef(nil), t.RelatedEntities...)
	}
	if t.RelatedTransactions != nil {
		c.RelatedTransactions = append([]string(nil), t.RelatedTransactions...)
	}

	return &c
}

// Less orders records by timestamp, then id.
func Less(a, b *Transaction) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// Compare is the three-way form of Less, for slices.SortFunc.
func Compare(a, b *Transaction) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	}
	return 0
}
