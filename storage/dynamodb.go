/*
# Module: storage/dynamodb.go
DynamoDB implementation of the FIFO queues and their history tables.

## Linked Modules
- [storage/repository](./repository.go) - Repository interfaces
- [types/donation](../types/donation.go) - Donation queue items
- [types/media](../types/media.go) - Media queue items

## Tags
storage, dynamodb, persistence, queue

## Exports
QueueDynamoDBRepository, NewQueueDynamoDBRepository

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "storage/dynamodb.go" ;
    code:description "DynamoDB implementation of the FIFO queues and their history tables" ;
    code:linksTo [
        code:name "storage/repository" ;
        code:path "./repository.go" ;
        code:relationship "Repository interfaces"
    ], [
        code:name "types/donation" ;
        code:path "../types/donation.go" ;
        code:relationship "Donation queue items"
    ], [
        code:name "types/media" ;
        code:path "../types/media.go" ;
        code:relationship "Media queue items"
    ] ;
    code:exports :QueueDynamoDBRepository, :NewQueueDynamoDBRepository ;
    code:tags "storage", "dynamodb", "persistence", "queue" .
<!-- End LinkedDoc RDF -->
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"donation-alerts/types"
)

// Both the queue and history tables use (queue, position) as primary key
// and carry two global secondary indexes.
const (
	IDIndex    = "id-index"
	OrderIndex = "order-index"
)

// QueueDynamoDBRepository implements QueueRepository using DynamoDB.
// Pending items are sorted by Position(created_at, id); history items by
// Position(completed_at, id).
type QueueDynamoDBRepository[T QueueItem[T]] struct {
	client       *dynamodb.Client
	queueTable   string
	historyTable string
	queue        types.QueueKind
}

// NewQueueDynamoDBRepository creates a new DynamoDB queue repository
func NewQueueDynamoDBRepository[T QueueItem[T]](client *dynamodb.Client, queueTable, historyTable string, queue types.QueueKind) *QueueDynamoDBRepository[T] {
	return &QueueDynamoDBRepository[T]{
		client:       client,
		queueTable:   queueTable,
		historyTable: historyTable,
		queue:        queue,
	}
}

func (r *QueueDynamoDBRepository[T]) ready() error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}
	return nil
}

func (r *QueueDynamoDBRepository[T]) marshal(item T, position string) (map[string]dynamodbtypes.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s item: %w", r.queue, err)
	}
	av["queue"] = &dynamodbtypes.AttributeValueMemberS{Value: string(r.queue)}
	av["position"] = &dynamodbtypes.AttributeValueMemberS{Value: position}
	return av, nil
}

func (r *QueueDynamoDBRepository[T]) key(position string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"queue":    &dynamodbtypes.AttributeValueMemberS{Value: string(r.queue)},
		"position": &dynamodbtypes.AttributeValueMemberS{Value: position},
	}
}

// Enqueue stores a pending item
func (r *QueueDynamoDBRepository[T]) Enqueue(ctx context.Context, item T) error {
	if err := r.ready(); err != nil {
		return err
	}

	av, err := r.marshal(item, Position(item.CreatedTime(), item.ItemID()))
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.queueTable),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#p)"),
		ExpressionAttributeNames: map[string]string{"#p": "position"},
	})
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to enqueue %s item: %w", r.queue, err)
	}

	log.Debug().Str("queue", string(r.queue)).Str("id", item.ItemID()).Msg("💾 item enqueued in DynamoDB")
	return nil
}

// PeekOldest returns the head of the queue or nil
func (r *QueueDynamoDBRepository[T]) PeekOldest(ctx context.Context) (*T, error) {
	items, err := r.query(ctx, r.queueTable, true, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// Get finds a pending item by id
func (r *QueueDynamoDBRepository[T]) Get(ctx context.Context, id string) (*T, error) {
	return r.getByID(ctx, r.queueTable, id)
}

// List returns pending items in FIFO order
func (r *QueueDynamoDBRepository[T]) List(ctx context.Context, limit int) ([]T, error) {
	return r.query(ctx, r.queueTable, true, limit)
}

// Count returns the number of pending items
func (r *QueueDynamoDBRepository[T]) Count(ctx context.Context) (int, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}

	total := 0
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		input := r.queueQuery(r.queueTable, true)
		input.Select = dynamodbtypes.SelectCount
		input.ExclusiveStartKey = lastEvaluatedKey

		result, err := r.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to count %s queue: %w", r.queue, err)
		}
		total += int(result.Count)

		lastEvaluatedKey = result.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			return total, nil
		}
	}
}

// Remove deletes a pending item; unknown ids are ignored
func (r *QueueDynamoDBRepository[T]) Remove(ctx context.Context, id string) error {
	item, err := r.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.queueTable),
		Key:       r.key(Position((*item).CreatedTime(), id)),
	})
	if err != nil {
		return fmt.Errorf("failed to remove %s item: %w", r.queue, err)
	}
	return nil
}

// MoveToHistory deletes the pending item and writes the history entry in a
// single transaction. A failed existence condition means another caller
// already moved it.
func (r *QueueDynamoDBRepository[T]) MoveToHistory(ctx context.Context, item T, outcome string, at time.Time) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}

	completed := item.Completed(outcome, at)
	av, err := r.marshal(completed, Position(at, item.ItemID()))
	if err != nil {
		return false, err
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []dynamodbtypes.TransactWriteItem{
			{
				Delete: &dynamodbtypes.Delete{
					TableName:                aws.String(r.queueTable),
					Key:                      r.key(Position(item.CreatedTime(), item.ItemID())),
					ConditionExpression:      aws.String("attribute_exists(#p)"),
					ExpressionAttributeNames: map[string]string{"#p": "position"},
				},
			},
			{
				Put: &dynamodbtypes.Put{
					TableName:                aws.String(r.historyTable),
					Item:                     av,
					ConditionExpression:      aws.String("attribute_not_exists(#p)"),
					ExpressionAttributeNames: map[string]string{"#p": "position"},
				},
			},
		},
	})
	if err != nil {
		var tce *dynamodbtypes.TransactionCanceledException
		if errors.As(err, &tce) && conditionFailed(tce) {
			log.Warn().Str("queue", string(r.queue)).Str("id", item.ItemID()).Msg("⚠️  item already moved to history")
			return false, nil
		}
		return false, fmt.Errorf("failed to move %s item to history: %w", r.queue, err)
	}

	log.Debug().Str("queue", string(r.queue)).Str("id", item.ItemID()).Str("outcome", outcome).Msg("📚 item moved to history")
	return true, nil
}

func conditionFailed(tce *dynamodbtypes.TransactionCanceledException) bool {
	for _, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// GetHistory finds a history item by id
func (r *QueueDynamoDBRepository[T]) GetHistory(ctx context.Context, id string) (*T, error) {
	return r.getByID(ctx, r.historyTable, id)
}

// ListHistory returns history newest first
func (r *QueueDynamoDBRepository[T]) ListHistory(ctx context.Context, limit int) ([]T, error) {
	return r.query(ctx, r.historyTable, false, limit)
}

// ExistsOrder checks the order index of both tables
func (r *QueueDynamoDBRepository[T]) ExistsOrder(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, nil
	}
	if err := r.ready(); err != nil {
		return false, err
	}

	for _, table := range []string{r.queueTable, r.historyTable} {
		var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
		for {
			result, err := r.client.Query(ctx, &dynamodb.QueryInput{
				TableName:              aws.String(table),
				IndexName:              aws.String(OrderIndex),
				KeyConditionExpression: aws.String("order_id = :o"),
				FilterExpression:       aws.String("#q = :q"),
				ExpressionAttributeNames: map[string]string{
					"#q": "queue",
				},
				ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
					":o": &dynamodbtypes.AttributeValueMemberS{Value: orderID},
					":q": &dynamodbtypes.AttributeValueMemberS{Value: string(r.queue)},
				},
				Select:            dynamodbtypes.SelectCount,
				ExclusiveStartKey: lastEvaluatedKey,
			})
			if err != nil {
				return false, fmt.Errorf("failed to look up order %s: %w", orderID, err)
			}
			if result.Count > 0 {
				return true, nil
			}
			lastEvaluatedKey = result.LastEvaluatedKey
			if lastEvaluatedKey == nil {
				break
			}
		}
	}
	return false, nil
}

// PruneHistory deletes history entries completed before the cutoff
func (r *QueueDynamoDBRepository[T]) PruneHistory(ctx context.Context, completedBefore time.Time) (int, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}

	cut := fmt.Sprintf("%020d", completedBefore.UnixNano())
	removed := 0
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(r.historyTable),
			KeyConditionExpression: aws.String("#q = :q AND #p < :cut"),
			ProjectionExpression:   aws.String("#q, #p"),
			ExpressionAttributeNames: map[string]string{
				"#q": "queue",
				"#p": "position",
			},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":q":   &dynamodbtypes.AttributeValueMemberS{Value: string(r.queue)},
				":cut": &dynamodbtypes.AttributeValueMemberS{Value: cut},
			},
			ExclusiveStartKey: lastEvaluatedKey,
		})
		if err != nil {
			return removed, fmt.Errorf("failed to scan %s history for pruning: %w", r.queue, err)
		}

		for _, key := range result.Items {
			if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(r.historyTable),
				Key:       key,
			}); err != nil {
				return removed, fmt.Errorf("failed to delete %s history entry: %w", r.queue, err)
			}
			removed++
		}

		lastEvaluatedKey = result.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			break
		}
	}

	log.Info().Str("queue", string(r.queue)).Int("removed", removed).Msg("🧹 pruned history entries")
	return removed, nil
}

func (r *QueueDynamoDBRepository[T]) queueQuery(table string, ascending bool) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:                aws.String(table),
		KeyConditionExpression:   aws.String("#q = :q"),
		ExpressionAttributeNames: map[string]string{"#q": "queue"},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":q": &dynamodbtypes.AttributeValueMemberS{Value: string(r.queue)},
		},
		ScanIndexForward: aws.Bool(ascending),
		ConsistentRead:   aws.Bool(true),
	}
}

func (r *QueueDynamoDBRepository[T]) query(ctx context.Context, table string, ascending bool, limit int) ([]T, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	var items []T
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		input := r.queueQuery(table, ascending)
		input.ExclusiveStartKey = lastEvaluatedKey
		if limit > 0 {
			input.Limit = aws.Int32(int32(limit - len(items)))
		}

		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}

		for _, av := range result.Items {
			var item T
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				log.Warn().Err(err).Str("queue", string(r.queue)).Msg("⚠️  failed to unmarshal item")
				continue
			}
			items = append(items, item)
		}

		lastEvaluatedKey = result.LastEvaluatedKey
		if lastEvaluatedKey == nil || (limit > 0 && len(items) >= limit) {
			return items, nil
		}
	}
}

// getByID resolves an id with reads that observe every completed write.
// The id index only supplies the position; the item itself is read from
// the base table. An index miss may be replication lag, so the partition
// is searched with a consistent query before reporting ErrNotFound.
func (r *QueueDynamoDBRepository[T]) getByID(ctx context.Context, table, id string) (*T, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}

	position, err := r.indexedPosition(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if position != "" {
		// positions never change within a table, so a miss here means the
		// item was removed after the index was written
		return r.getAt(ctx, table, position)
	}

	log.Debug().Str("queue", string(r.queue)).Str("table", table).Str("id", id).Msg("🔎 id index miss, reading partition")
	return r.findInPartition(ctx, table, id)
}

func (r *QueueDynamoDBRepository[T]) indexedPosition(ctx context.Context, table, id string) (string, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		IndexName:              aws.String(IDIndex),
		KeyConditionExpression: aws.String("id = :id"),
		FilterExpression:       aws.String("#q = :q"),
		ProjectionExpression:   aws.String("#p"),
		ExpressionAttributeNames: map[string]string{
			"#q": "queue",
			"#p": "position",
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":id": &dynamodbtypes.AttributeValueMemberS{Value: id},
			":q":  &dynamodbtypes.AttributeValueMemberS{Value: string(r.queue)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get %s item %s: %w", r.queue, id, err)
	}
	for _, av := range result.Items {
		if p, ok := av["position"].(*dynamodbtypes.AttributeValueMemberS); ok {
			return p.Value, nil
		}
	}
	return "", nil
}

func (r *QueueDynamoDBRepository[T]) getAt(ctx context.Context, table, position string) (*T, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            r.key(position),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s item at %s: %w", r.queue, position, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s item: %w", r.queue, err)
	}
	return &item, nil
}

func (r *QueueDynamoDBRepository[T]) findInPartition(ctx context.Context, table, id string) (*T, error) {
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		input := r.queueQuery(table, true)
		input.FilterExpression = aws.String("id = :id")
		input.ExpressionAttributeValues[":id"] = &dynamodbtypes.AttributeValueMemberS{Value: id}
		input.ExclusiveStartKey = lastEvaluatedKey

		result, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to search %s for %s: %w", table, id, err)
		}
		if len(result.Items) > 0 {
			var item T
			if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s item: %w", r.queue, err)
			}
			return &item, nil
		}

		lastEvaluatedKey = result.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			return nil, ErrNotFound
		}
	}
}
