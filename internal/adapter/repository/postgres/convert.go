package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/infrastructure/postgres/generated"
)

// Snapshot slots in ledger_snapshots.
const (
	slotPreviousState = "previous_state"
	slotNewState      = "new_state"
	slotMetadata      = "metadata"
)

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}

	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return timeToPgTimestamptz(*t)
}

func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func insertParams(t *domain.Transaction) generated.InsertTransactionParams {
	related := t.RelatedTransactions
	if related == nil {
		related = []string{}
	}

	return generated.InsertTransactionParams{
		ID:                  t.ID,
		Type:                string(t.Type),
		Status:              string(t.Status),
		Amount:              decimalToNumeric(t.Amount),
		Currency:            t.Currency,
		Description:         t.Description,
		PerformedBy:         t.PerformedBy,
		Notes:               t.Notes,
		ReversalOf:          optionalText(t.ReversalOf),
		RelatedTransactions: related,
		CreatedAt:           timeToPgTimestamptz(t.Timestamp),
		StatusChangedAt:     optionalTime(t.StatusChangedAt),
		Version:             t.Version,
	}
}

func snapshotParams(t *domain.Transaction) []generated.InsertSnapshotParams {
	var out []generated.InsertSnapshotParams
	for _, s := range []struct {
		slot string
		blob *domain.Blob
	}{
		{slotPreviousState, t.PreviousState},
		{slotNewState, t.NewState},
		{slotMetadata, t.Metadata},
	} {
		if s.blob == nil {
			continue
		}
		out = append(out, generated.InsertSnapshotParams{
			TransactionID: t.ID,
			Slot:          s.slot,
			SchemaName:    s.blob.Schema,
			SchemaVersion: int32(s.blob.Version),
			Data:          s.blob.Data,
		})
	}
	return out
}

func transitionParams(tr *domain.Transition) generated.InsertTransitionParams {
	return generated.InsertTransitionParams{
		TransactionID: tr.TransactionID,
		FromStatus:    string(tr.From),
		ToStatus:      string(tr.To),
		Reason:        tr.Reason,
		PerformedBy:   tr.PerformedBy,
		ReversalID:    optionalText(tr.ReversalID),
		CreatedAt:     timeToPgTimestamptz(tr.At),
	}
}

func rowToTransaction(row generated.LedgerTransaction) *domain.Transaction {
	t := &domain.Transaction{
		ID:          row.ID,
		Type:        domain.TransactionType(row.Type),
		Status:      domain.TransactionStatus(row.Status),
		Amount:      numericToDecimal(row.Amount),
		Currency:    row.Currency,
		Description: row.Description,
		PerformedBy: row.PerformedBy,
		Notes:       row.Notes,
		ReversalOf:  row.ReversalOf.String,
		Timestamp:   row.CreatedAt.Time.UTC(),
		Version:     row.Version,
	}
	if len(row.RelatedTransactions) > 0 {
		t.RelatedTransactions = row.RelatedTransactions
	}
	if row.StatusChangedAt.Valid {
		at := row.StatusChangedAt.Time.UTC()
		t.StatusChangedAt = &at
	}
	return t
}

func rowToTransition(row generated.LedgerTransition) *domain.Transition {
	return &domain.Transition{
		At:            row.CreatedAt.Time.UTC(),
		TransactionID: row.TransactionID,
		From:          domain.TransactionStatus(row.FromStatus),
		To:            domain.TransactionStatus(row.ToStatus),
		Reason:        row.Reason,
		PerformedBy:   row.PerformedBy,
		ReversalID:    row.ReversalID.String,
	}
}

// attach fills entity refs and snapshots onto the records they belong to.
func attach(records []*domain.Transaction, entities []generated.LedgerTransactionEntity, snapshots []generated.LedgerSnapshot) {
	byID := make(map[string]*domain.Transaction, len(records))
	for _, t := range records {
		byID[t.ID] = t
	}

	// Rows arrive ordered by (transaction_id, position).
	for _, e := range entities {
		if t, ok := byID[e.TransactionID]; ok {
			t.RelatedEntities = append(t.RelatedEntities, domain.EntityRef{
				Kind: domain.EntityKind(e.EntityKind),
				ID:   e.EntityID,
			})
		}
	}

	for _, s := range snapshots {
		t, ok := byID[s.TransactionID]
		if !ok {
			continue
		}
		blob := &domain.Blob{Schema: s.SchemaName, Version: int(s.SchemaVersion), Data: s.Data}
		switch s.Slot {
		case slotPreviousState:
			t.PreviousState = blob
		case slotNewState:
			t.NewState = blob
		case slotMetadata:
			t.Metadata = blob
		}
	}
}
