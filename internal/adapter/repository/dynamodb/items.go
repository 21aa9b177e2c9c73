package dynamodb

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/iho/tripledger/internal/domain"
)

type blobAttr struct {
	Schema  string `dynamodbav:"schema,omitempty"`
	Version int    `dynamodbav:"version,omitempty"`
	Data    []byte `dynamodbav:"data"`
}

type entityAttr struct {
	Kind string `dynamodbav:"kind"`
	ID   string `dynamodbav:"id"`
}

// recordItem is the stored form of a transaction. Amounts are kept as
// decimal strings and snapshots as binary so both round-trip exactly.
type recordItem struct {
	PK                  string       `dynamodbav:"PK"`
	SK                  string       `dynamodbav:"SK"`
	ID                  string       `dynamodbav:"id"`
	Type                string       `dynamodbav:"type"`
	Status              string       `dynamodbav:"status"`
	Amount              string       `dynamodbav:"amount"`
	Currency            string       `dynamodbav:"currency"`
	Description         string       `dynamodbav:"description"`
	PerformedBy         string       `dynamodbav:"performedBy,omitempty"`
	Notes               string       `dynamodbav:"notes,omitempty"`
	ReversalOf          string       `dynamodbav:"reversalOf,omitempty"`
	RelatedEntities     []entityAttr `dynamodbav:"relatedEntities,omitempty"`
	RelatedTransactions []string     `dynamodbav:"relatedTransactions,omitempty"`
	PreviousState       *blobAttr    `dynamodbav:"previousState,omitempty"`
	NewState            *blobAttr    `dynamodbav:"newState,omitempty"`
	Metadata            *blobAttr    `dynamodbav:"metadata,omitempty"`
	CreatedAt           string       `dynamodbav:"createdAt"`
	StatusChangedAt     string       `dynamodbav:"statusChangedAt,omitempty"`
	Version             int64        `dynamodbav:"version"`
}

type indexItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	ID string `dynamodbav:"id"`
}

type transitionItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	TransactionID string `dynamodbav:"transactionId"`
	From          string `dynamodbav:"from"`
	To            string `dynamodbav:"to"`
	Reason        string `dynamodbav:"reason,omitempty"`
	PerformedBy   string `dynamodbav:"performedBy,omitempty"`
	ReversalID    string `dynamodbav:"reversalId,omitempty"`
	At            string `dynamodbav:"at"`
}

func toBlobAttr(b *domain.Blob) *blobAttr {
	if b == nil {
		return nil
	}
	return &blobAttr{Schema: b.Schema, Version: b.Version, Data: b.Data}
}

func (b *blobAttr) toBlob() *domain.Blob {
	if b == nil {
		return nil
	}
	return &domain.Blob{Schema: b.Schema, Version: b.Version, Data: b.Data}
}

func newRecordItem(t *domain.Transaction) recordItem {
	item := recordItem{
		PK:                  recordPK(t.ID),
		SK:                  skRecord,
		ID:                  t.ID,
		Type:                string(t.Type),
		Status:              string(t.Status),
		Amount:              t.Amount.String(),
		Currency:            t.Currency,
		Description:         t.Description,
		PerformedBy:         t.PerformedBy,
		Notes:               t.Notes,
		ReversalOf:          t.ReversalOf,
		RelatedTransactions: t.RelatedTransactions,
		PreviousState:       toBlobAttr(t.PreviousState),
		NewState:            toBlobAttr(t.NewState),
		Metadata:            toBlobAttr(t.Metadata),
		CreatedAt:           t.Timestamp.UTC().Format(time.RFC3339Nano),
		Version:             t.Version,
	}
	for _, ref := range t.RelatedEntities {
		item.RelatedEntities = append(item.RelatedEntities, entityAttr{Kind: string(ref.Kind), ID: ref.ID})
	}
	if t.StatusChangedAt != nil {
		item.StatusChangedAt = t.StatusChangedAt.UTC().Format(time.RFC3339Nano)
	}
	return item
}

func (r recordItem) toTransaction() (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount of %s: %w", r.ID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("decode createdAt of %s: %w", r.ID, err)
	}

	t := &domain.Transaction{
		ID:                  r.ID,
		Type:                domain.TransactionType(r.Type),
		Status:              domain.TransactionStatus(r.Status),
		Amount:              amount,
		Currency:            r.Currency,
		Description:         r.Description,
		PerformedBy:         r.PerformedBy,
		Notes:               r.Notes,
		ReversalOf:          r.ReversalOf,
		RelatedTransactions: r.RelatedTransactions,
		PreviousState:       r.PreviousState.toBlob(),
		NewState:            r.NewState.toBlob(),
		Metadata:            r.Metadata.toBlob(),
		Timestamp:           createdAt.UTC(),
		Version:             r.Version,
	}
	for _, ref := range r.RelatedEntities {
		t.RelatedEntities = append(t.RelatedEntities, domain.EntityRef{Kind: domain.EntityKind(ref.Kind), ID: ref.ID})
	}
	if r.StatusChangedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, r.StatusChangedAt)
		if err != nil {
			return nil, fmt.Errorf("decode statusChangedAt of %s: %w", r.ID, err)
		}
		at = at.UTC()
		t.StatusChangedAt = &at
	}
	return t, nil
}

func newTransitionItem(tr *domain.Transition) transitionItem {
	return transitionItem{
		PK:            recordPK(tr.TransactionID),
		SK:            transitionSK(tr),
		TransactionID: tr.TransactionID,
		From:          string(tr.From),
		To:            string(tr.To),
		Reason:        tr.Reason,
		PerformedBy:   tr.PerformedBy,
		ReversalID:    tr.ReversalID,
		At:            tr.At.UTC().Format(time.RFC3339Nano),
	}
}

func (i transitionItem) toTransition() (*domain.Transition, error) {
	at, err := time.Parse(time.RFC3339Nano, i.At)
	if err != nil {
		return nil, fmt.Errorf("decode transition time: %w", err)
	}
	return &domain.Transition{
		At:            at.UTC(),
		TransactionID: i.TransactionID,
		From:          domain.TransactionStatus(i.From),
		To:            domain.TransactionStatus(i.To),
		Reason:        i.Reason,
		PerformedBy:   i.PerformedBy,
		ReversalID:    i.ReversalID,
	}, nil
}

func decodeRecord(item map[string]types.AttributeValue) (*domain.Transaction, error) {
	var r recordItem
	if err := attributevalue.UnmarshalMap(item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return r.toTransaction()
}
