package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/iho/tripledger/internal/domain"
)

// batchGetLimit is the BatchGetItem key limit.
const batchGetLimit = 100

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store implements usecase.TransactionStore on a single DynamoDB table.
// Each write is one TransactWriteItems call, so a record and its index
// items become visible together.
type Store struct {
	api   API
	table string
}

// NewStore creates a store over an existing table.
func NewStore(api API, table string) *Store {
	return &Store{api: api, table: table}
}

// Append writes the record item and its index items.
func (s *Store) Append(ctx context.Context, t *domain.Transaction) error {
	items, err := s.appendItems(t)
	if err != nil {
		return err
	}

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if reasons, ok := cancellationReasons(err); ok && conditionFailed(reasons, 0) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, t.ID)
		}
		return fmt.Errorf("append %s: %w", t.ID, mapError(err))
	}
	return nil
}

// Get reads a record with a strongly consistent read.
func (s *Store) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            recordKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, mapError(err))
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}

	return decodeRecord(out.Item)
}

// QueryByEntity walks the entity index, oldest first.
func (s *Store) QueryByEntity(ctx context.Context, kind domain.EntityKind, entityID string) iter.Seq2[*domain.Transaction, error] {
	return s.scanIndex(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: entityPK(kind, entityID)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	})
}

// QueryByTimeRange walks the timeline for start <= timestamp < end. The
// upper bound is the bare time key, which sorts before every "<end>#id".
func (s *Store) QueryByTimeRange(ctx context.Context, start, end time.Time) iter.Seq2[*domain.Transaction, error] {
	return s.scanIndex(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :lo AND :hi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkTimeline},
			":lo": &types.AttributeValueMemberS{Value: timeKey(start)},
			":hi": &types.AttributeValueMemberS{Value: timeKey(end)},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	})
}

// UpdateStatus applies a transition with a condition on the current status.
func (s *Store) UpdateStatus(ctx context.Context, id string, tr *domain.Transition) error {
	if !domain.CanTransition(tr.From, tr.To) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tr.From, tr.To)
	}

	audit, err := s.putTransition(tr)
	if err != nil {
		return err
	}

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{s.statusUpdate(id, tr), audit},
	})
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, s.transitionError(id, tr, err))
	}
	return nil
}

// AppendReversal stamps the original reversed and appends the reversal
// record in one TransactWriteItems call.
func (s *Store) AppendReversal(ctx context.Context, reversal *domain.Transaction, tr *domain.Transition) error {
	if !domain.CanTransition(tr.From, tr.To) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tr.From, tr.To)
	}

	items := []types.TransactWriteItem{s.statusUpdate(tr.TransactionID, tr)}
	record, err := s.appendItems(reversal)
	if err != nil {
		return err
	}
	items = append(items, record...)
	audit, err := s.putTransition(tr)
	if err != nil {
		return err
	}
	items = append(items, audit)

	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if reasons, ok := cancellationReasons(err); ok && conditionFailed(reasons, 1) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateID, reversal.ID)
		}
		return fmt.Errorf("reverse %s: %w", tr.TransactionID, s.transitionError(tr.TransactionID, tr, err))
	}
	return nil
}

// Transitions returns the audit facts of a record, oldest first.
func (s *Store) Transitions(ctx context.Context, id string) ([]*domain.Transition, error) {
	p := dynamodb.NewQueryPaginator(s.api, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: recordPK(id)},
			":prefix": &types.AttributeValueMemberS{Value: transitionPrefix},
		},
		ConsistentRead: aws.Bool(true),
	})

	var out []*domain.Transition
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("transitions %s: %w", id, mapError(err))
		}
		for _, raw := range page.Items {
			var item transitionItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshal transition: %w", err)
			}
			tr, err := item.toTransition()
			if err != nil {
				return nil, err
			}
			out = append(out, tr)
		}
	}
	return out, nil
}

// Exists returns the ids that are not stored, in input order.
func (s *Store) Exists(ctx context.Context, ids []string) ([]string, error) {
	found, err := s.batchGet(ctx, ids)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) appendItems(t *domain.Transaction) ([]types.TransactWriteItem, error) {
	record, err := attributevalue.MarshalMap(newRecordItem(t))
	if err != nil {
		return nil, fmt.Errorf("marshal record %s: %w", t.ID, err)
	}

	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.table),
			Item:                record,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}

	sk := indexSK(t.Timestamp, t.ID)
	index := []indexItem{{PK: pkTimeline, SK: sk, ID: t.ID}}
	for _, ref := range t.RelatedEntities {
		index = append(index, indexItem{PK: entityPK(ref.Kind, ref.ID), SK: sk, ID: t.ID})
	}
	for _, ix := range index {
		av, err := attributevalue.MarshalMap(ix)
		if err != nil {
			return nil, fmt.Errorf("marshal index item: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(s.table), Item: av},
		})
	}
	return items, nil
}

func (s *Store) statusUpdate(id string, tr *domain.Transition) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(s.table),
			Key:                 recordKey(id),
			UpdateExpression:    aws.String("SET #status = :to, statusChangedAt = :at ADD #version :one"),
			ConditionExpression: aws.String("attribute_exists(PK) AND #status = :from"),
			ExpressionAttributeNames: map[string]string{
				"#status":  "status",
				"#version": "version",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":to":   &types.AttributeValueMemberS{Value: string(tr.To)},
				":from": &types.AttributeValueMemberS{Value: string(tr.From)},
				":at":   &types.AttributeValueMemberS{Value: tr.At.UTC().Format(time.RFC3339Nano)},
				":one":  &types.AttributeValueMemberN{Value: "1"},
			},
			ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
		},
	}
}

func (s *Store) putTransition(tr *domain.Transition) (types.TransactWriteItem, error) {
	av, err := attributevalue.MarshalMap(newTransitionItem(tr))
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal transition: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{TableName: aws.String(s.table), Item: av},
	}, nil
}

// transitionError tells a missing record from a lost race using the old
// item returned with the failed status condition.
func (s *Store) transitionError(id string, tr *domain.Transition, err error) error {
	reasons, ok := cancellationReasons(err)
	if !ok || !conditionFailed(reasons, 0) {
		return mapError(err)
	}

	old := reasons[0].Item
	if len(old) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}

	var current struct {
		Status string `dynamodbav:"status"`
	}
	_ = attributevalue.UnmarshalMap(old, &current)
	return fmt.Errorf("%w: %s is %s, expected %s", domain.ErrConcurrentModification, id, current.Status, tr.From)
}

// scanIndex pages through index items and loads the records they point
// at. Records are read per page, so a scan is consistent per page only.
func (s *Store) scanIndex(ctx context.Context, input *dynamodb.QueryInput) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		p := dynamodb.NewQueryPaginator(s.api, input)
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				yield(nil, mapError(err))
				return
			}

			ids := make([]string, 0, len(page.Items))
			for _, raw := range page.Items {
				var ix indexItem
				if err := attributevalue.UnmarshalMap(raw, &ix); err != nil {
					yield(nil, fmt.Errorf("unmarshal index item: %w", err))
					return
				}
				ids = append(ids, ix.ID)
			}

			records, err := s.batchGet(ctx, ids)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, id := range ids {
				t, ok := records[id]
				if !ok {
					yield(nil, fmt.Errorf("%w: index points at missing record %s", domain.ErrStorageUnavailable, id))
					return
				}
				if !yield(t, nil) {
					return
				}
			}
		}
	}
}

var errUnprocessedKeys = errors.New("unprocessed keys")

// batchGet loads records by id, retrying unprocessed keys with backoff.
func (s *Store) batchGet(ctx context.Context, ids []string) (map[string]*domain.Transaction, error) {
	found := make(map[string]*domain.Transaction, len(ids))

	seen := make(map[string]struct{}, len(ids))
	for start := 0; start < len(ids); start += batchGetLimit {
		end := min(start+batchGetLimit, len(ids))

		var pending []map[string]types.AttributeValue
		for _, id := range ids[start:end] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			pending = append(pending, recordKey(id))
		}

		op := func() error {
			out, err := s.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: map[string]types.KeysAndAttributes{
					s.table: {Keys: pending, ConsistentRead: aws.Bool(true)},
				},
			})
			if err != nil {
				return backoff.Permanent(err)
			}

			for _, raw := range out.Responses[s.table] {
				t, err := decodeRecord(raw)
				if err != nil {
					return backoff.Permanent(err)
				}
				found[t.ID] = t
			}

			pending = out.UnprocessedKeys[s.table].Keys
			if len(pending) > 0 {
				return errUnprocessedKeys
			}
			return nil
		}

		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
		if err := backoff.Retry(op, b); err != nil {
			return nil, fmt.Errorf("batch get: %w", mapError(err))
		}
	}

	return found, nil
}

func recordKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: recordPK(id)},
		attrSK: &types.AttributeValueMemberS{Value: skRecord},
	}
}

func cancellationReasons(err error) ([]types.CancellationReason, bool) {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return tce.CancellationReasons, true
	}
	return nil, false
}

func conditionFailed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && aws.ToString(reasons[i].Code) == "ConditionalCheckFailed"
}

// mapError classifies SDK failures. Conflicting transactions surface as
// lost races; everything else means the table could not be reached.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStorageUnavailable) || errors.Is(err, domain.ErrConcurrentModification) {
		return err
	}

	if reasons, ok := cancellationReasons(err); ok {
		for _, r := range reasons {
			if aws.ToString(r.Code) == "TransactionConflict" {
				return fmt.Errorf("%w: %w", domain.ErrConcurrentModification, err)
			}
		}
	}
	var conflict *types.TransactionConflictException
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %w", domain.ErrConcurrentModification, err)
	}

	return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
}
