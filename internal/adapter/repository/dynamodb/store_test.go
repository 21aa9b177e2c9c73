package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/tripledger/internal/domain"
	"github.com/iho/tripledger/internal/usecase"
)

var _ usecase.TransactionStore = (*Store)(nil)

// fakeAPI answers each call with the matching function and records inputs.
type fakeAPI struct {
	getItem  func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	query    func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	batchGet func(*dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error)
	transact func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)

	queries   []*dynamodb.QueryInput
	transacts []*dynamodb.TransactWriteItemsInput
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return f.getItem(in)
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries = append(f.queries, in)
	return f.query(in)
}

func (f *fakeAPI) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return f.batchGet(in)
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.transacts = append(f.transacts, in)
	if f.transact == nil {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}
	return f.transact(in)
}

const table = "ledger"

var at = time.Date(2024, 7, 1, 12, 30, 0, 123456000, time.UTC)

func sample(id string) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		Type:        domain.TypeRefundIssued,
		Status:      domain.StatusPending,
		Amount:      decimal.RequireFromString("-42.10"),
		Currency:    "EUR",
		Description: "refund for cancelled tour",
		PerformedBy: "agent-2",
		Timestamp:   at,
		RelatedEntities: []domain.EntityRef{
			{Kind: domain.EntityInvoice, ID: "inv-7"},
			{Kind: domain.EntityCustomer, ID: "cust-3"},
		},
		RelatedTransactions: []string{"tx-0"},
		PreviousState:       &domain.Blob{Schema: "booking", Version: 1, Data: []byte(`{"seats": 2}`)},
	}
}

func marshalRecord(t *testing.T, tx *domain.Transaction) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(newRecordItem(tx))
	require.NoError(t, err)
	return av
}

func canceled(codes ...string) error {
	reasons := make([]types.CancellationReason, 0, len(codes))
	for _, c := range codes {
		reasons = append(reasons, types.CancellationReason{Code: aws.String(c)})
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestRecordItemRoundTrip(t *testing.T) {
	in := sample("tx-1")
	changed := at.Add(time.Hour)
	in.StatusChangedAt = &changed
	in.Version = 2

	av, err := attributevalue.MarshalMap(newRecordItem(in))
	require.NoError(t, err)

	out, err := decodeRecord(av)
	require.NoError(t, err)

	assert.True(t, in.Amount.Equal(out.Amount))
	out.Amount = in.Amount
	assert.Equal(t, in, out)
}

func TestSortKeysOrderByTime(t *testing.T) {
	early := indexSK(time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC), "zzz")
	late := indexSK(time.Date(2024, 1, 2, 3, 4, 5, 7, time.UTC), "aaa")
	assert.Less(t, early, late)

	// The bare time key bounds a half-open range.
	end := time.Date(2024, 1, 2, 3, 4, 5, 7, time.UTC)
	assert.Less(t, timeKey(end), late)
	assert.Less(t, early, timeKey(end))
}

func TestStore_Append(t *testing.T) {
	api := &fakeAPI{}
	s := NewStore(api, table)

	require.NoError(t, s.Append(context.Background(), sample("tx-1")))
	require.Len(t, api.transacts, 1)

	items := api.transacts[0].TransactItems
	require.Len(t, items, 4, "record, timeline and one item per entity")
	assert.Equal(t, "attribute_not_exists(PK)", aws.ToString(items[0].Put.ConditionExpression))

	var pks []string
	for _, it := range items[1:] {
		var ix indexItem
		require.NoError(t, attributevalue.UnmarshalMap(it.Put.Item, &ix))
		assert.Equal(t, "tx-1", ix.ID)
		assert.Equal(t, indexSK(at, "tx-1"), ix.SK)
		pks = append(pks, ix.PK)
	}
	assert.Equal(t, []string{pkTimeline, "ENT#invoice#inv-7", "ENT#customer#cust-3"}, pks)
}

func TestStore_AppendDuplicate(t *testing.T) {
	api := &fakeAPI{transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		return nil, canceled("ConditionalCheckFailed", "None", "None", "None")
	}}

	err := NewStore(api, table).Append(context.Background(), sample("tx-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestStore_AppendThrottled(t *testing.T) {
	api := &fakeAPI{transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	}}

	err := NewStore(api, table).Append(context.Background(), sample("tx-1"))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestStore_Get(t *testing.T) {
	stored := sample("tx-1")
	api := &fakeAPI{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		assert.True(t, aws.ToBool(in.ConsistentRead))
		if in.Key[attrPK].(*types.AttributeValueMemberS).Value != recordPK("tx-1") {
			return &dynamodb.GetItemOutput{}, nil
		}
		return &dynamodb.GetItemOutput{Item: marshalRecord(t, stored)}, nil
	}}
	s := NewStore(api, table)

	got, err := s.Get(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, stored.RelatedEntities, got.RelatedEntities)
	assert.True(t, stored.PreviousState.Equal(got.PreviousState))

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestStore_UpdateStatusConditions(t *testing.T) {
	tr, err := domain.NewTransition("tx-1", domain.StatusPending, domain.StatusFailed, "declined", "", at)
	require.NoError(t, err)

	t.Run("applied", func(t *testing.T) {
		api := &fakeAPI{}
		require.NoError(t, NewStore(api, table).UpdateStatus(context.Background(), "tx-1", tr))

		items := api.transacts[0].TransactItems
		require.Len(t, items, 2)
		assert.Equal(t, "attribute_exists(PK) AND #status = :from", aws.ToString(items[0].Update.ConditionExpression))
		assert.Equal(t, "pending", items[0].Update.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberS).Value)

		var audit transitionItem
		require.NoError(t, attributevalue.UnmarshalMap(items[1].Put.Item, &audit))
		assert.Equal(t, "declined", audit.Reason)
		assert.Equal(t, recordPK("tx-1"), audit.PK)
	})

	t.Run("lost race", func(t *testing.T) {
		api := &fakeAPI{transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
				{
					Code: aws.String("ConditionalCheckFailed"),
					Item: map[string]types.AttributeValue{"status": &types.AttributeValueMemberS{Value: "completed"}},
				},
				{Code: aws.String("None")},
			}}
		}}
		err := NewStore(api, table).UpdateStatus(context.Background(), "tx-1", tr)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	})

	t.Run("missing record", func(t *testing.T) {
		api := &fakeAPI{transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, canceled("ConditionalCheckFailed", "None")
		}}
		err := NewStore(api, table).UpdateStatus(context.Background(), "tx-1", tr)
		assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	})

	t.Run("conflicting transaction", func(t *testing.T) {
		api := &fakeAPI{transact: func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
			return nil, canceled("TransactionConflict", "None")
		}}
		err := NewStore(api, table).UpdateStatus(context.Background(), "tx-1", tr)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	})

	t.Run("illegal move", func(t *testing.T) {
		api := &fakeAPI{}
		err := NewStore(api, table).UpdateStatus(context.Background(), "tx-1", &domain.Transition{
			TransactionID: "tx-1", From: domain.StatusReversed, To: domain.StatusCompleted,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Empty(t, api.transacts)
	})
}

func TestStore_AppendReversal(t *testing.T) {
	reversal := sample("rev-1")
	reversal.Status = domain.StatusCompleted
	reversal.Amount = reversal.Amount.Neg()
	reversal.ReversalOf = "tx-1"
	reversal.RelatedTransactions = []string{"tx-1"}

	tr, err := domain.NewTransition("tx-1", domain.StatusCompleted, domain.StatusReversed, "duplicate", "", at)
	require.NoError(t, err)
	tr.ReversalID = reversal.ID

	api := &fakeAPI{}
	require.NoError(t, NewStore(api, table).AppendReversal(context.Background(), reversal, tr))

	items := api.transacts[0].TransactItems
	require.Len(t, items, 6, "status update, record, timeline, two entity items, audit fact")
	require.NotNil(t, items[0].Update)
	assert.Equal(t, recordPK("tx-1"), items[0].Update.Key[attrPK].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "attribute_not_exists(PK)", aws.ToString(items[1].Put.ConditionExpression))

	api.transact = func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		return nil, canceled("None", "ConditionalCheckFailed")
	}
	err = NewStore(api, table).AppendReversal(context.Background(), reversal, tr)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestStore_QueryByTimeRangePagesInOrder(t *testing.T) {
	records := map[string]*domain.Transaction{}
	for i, id := range []string{"a", "b", "c"} {
		rec := sample(id)
		rec.Timestamp = at.Add(time.Duration(i) * time.Minute)
		records[id] = rec
	}

	index := func(ids ...string) []map[string]types.AttributeValue {
		var out []map[string]types.AttributeValue
		for _, id := range ids {
			av, err := attributevalue.MarshalMap(indexItem{PK: pkTimeline, SK: indexSK(records[id].Timestamp, id), ID: id})
			require.NoError(t, err)
			out = append(out, av)
		}
		return out
	}

	cursor := map[string]types.AttributeValue{attrPK: &types.AttributeValueMemberS{Value: pkTimeline}}
	api := &fakeAPI{
		query: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			if in.ExclusiveStartKey == nil {
				return &dynamodb.QueryOutput{Items: index("a", "b"), LastEvaluatedKey: cursor}, nil
			}
			return &dynamodb.QueryOutput{Items: index("c")}, nil
		},
		batchGet: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
			keys := in.RequestItems[table].Keys
			var items []map[string]types.AttributeValue
			// Answer in reverse to prove the store restores index order.
			for i := len(keys) - 1; i >= 0; i-- {
				pk := keys[i][attrPK].(*types.AttributeValueMemberS).Value
				items = append(items, marshalRecord(t, records[pk[len("TX#"):]]))
			}
			return &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{table: items}}, nil
		},
	}

	start, end := at, at.Add(time.Hour)
	var ids []string
	for rec, err := range NewStore(api, table).QueryByTimeRange(context.Background(), start, end) {
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.Len(t, api.queries, 2)
	values := api.queries[0].ExpressionAttributeValues
	assert.Equal(t, timeKey(start), values[":lo"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, timeKey(end), values[":hi"].(*types.AttributeValueMemberS).Value)
}

func TestStore_QueryByEntityStorageError(t *testing.T) {
	api := &fakeAPI{query: func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		return nil, errors.New("connection reset")
	}}

	var got error
	for _, err := range NewStore(api, table).QueryByEntity(context.Background(), domain.EntityInvoice, "inv-7") {
		got = err
	}
	assert.ErrorIs(t, got, domain.ErrStorageUnavailable)
	assert.Equal(t, "ENT#invoice#inv-7", api.queries[0].ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
}

func TestStore_ExistsRetriesUnprocessedKeys(t *testing.T) {
	calls := 0
	api := &fakeAPI{batchGet: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
		calls++
		keys := in.RequestItems[table].Keys
		if calls == 1 {
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]map[string]types.AttributeValue{table: {marshalRecord(t, sample("a"))}},
				UnprocessedKeys: map[string]types.KeysAndAttributes{
					table: {Keys: keys[1:]},
				},
			}, nil
		}
		return &dynamodb.BatchGetItemOutput{}, nil
	}}

	missing, err := NewStore(api, table).Exists(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, missing)
	assert.Equal(t, 2, calls)
}
