package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-alerts/types"
)

type dynamoCall struct {
	Op   string
	Body map[string]interface{}
}

type dynamoReply struct {
	status int
	body   string
}

// fakeDynamo answers DynamoDB JSON API calls with scripted replies per
// operation and records every request
type fakeDynamo struct {
	mu      sync.Mutex
	replies map[string][]dynamoReply
	calls   []dynamoCall
}

func newFakeDynamo(t *testing.T) (*fakeDynamo, *dynamodb.Client) {
	t.Helper()
	fake := &fakeDynamo{replies: make(map[string][]dynamoReply)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := dynamodb.New(dynamodb.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(srv.URL),
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 1,
	})
	return fake, client
}

func (f *fakeDynamo) reply(op string, body string) {
	f.replyStatus(op, http.StatusOK, body)
}

func (f *fakeDynamo) replyStatus(op string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[op] = append(f.replies[op], dynamoReply{status: status, body: body})
}

func (f *fakeDynamo) fail(op, errType, extra string) {
	body := fmt.Sprintf(`{"__type":"com.amazonaws.dynamodb.v20120810#%s","message":"scripted failure"%s}`, errType, extra)
	f.replyStatus(op, http.StatusBadRequest, body)
}

func (f *fakeDynamo) callsTo(op string) []dynamoCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dynamoCall
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDynamo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")
	op := target[strings.LastIndex(target, ".")+1:]

	raw, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	f.calls = append(f.calls, dynamoCall{Op: op, Body: body})
	reply := dynamoReply{status: http.StatusOK, body: "{}"}
	if queued := f.replies[op]; len(queued) > 0 {
		reply = queued[0]
		f.replies[op] = queued[1:]
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(reply.status)
	io.WriteString(w, reply.body)
}

func attr(t *testing.T, body map[string]interface{}, path ...string) interface{} {
	t.Helper()
	var cur interface{} = body
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		require.True(t, ok, "no object at %q in %v", key, path)
		cur = m[key]
	}
	return cur
}

const storedDonationA = `{
	"queue": {"S": "donation"},
	"position": {"S": "P-A"},
	"id": {"S": "A"},
	"order_id": {"S": "order-A"},
	"name": {"S": "viewer"},
	"amount": {"N": "5"},
	"message": {"S": "hi"},
	"source": {"S": "paypal"},
	"created_at": {"S": "2026-03-01T20:00:00Z"}
}`

func newDynamoDonations(client *dynamodb.Client) *QueueDynamoDBRepository[types.DonationItem] {
	return NewQueueDynamoDBRepository[types.DonationItem](client, "queue", "history", types.QueueDonation)
}

func TestDynamoGetReadsPartitionOnIndexMiss(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := newDynamoDonations(client)

	fake.reply("Query", `{"Count": 0, "Items": []}`)
	fake.reply("Query", `{"Count": 1, "Items": [`+storedDonationA+`]}`)

	item, err := repo.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "A", item.ID)
	assert.Equal(t, "5.00", item.Amount.Display())

	queries := fake.callsTo("Query")
	require.Len(t, queries, 2)
	assert.Equal(t, IDIndex, attr(t, queries[0].Body, "IndexName"))

	fallback := queries[1].Body
	assert.Nil(t, fallback["IndexName"])
	assert.Equal(t, true, fallback["ConsistentRead"])
	assert.Equal(t, "id = :id", fallback["FilterExpression"])
	assert.Equal(t, "A", attr(t, fallback, "ExpressionAttributeValues", ":id", "S"))
	assert.Equal(t, "donation", attr(t, fallback, "ExpressionAttributeValues", ":q", "S"))
}

func TestDynamoGetMissingEverywhereIsNotFound(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := newDynamoDonations(client)

	fake.reply("Query", `{"Count": 0, "Items": []}`)
	fake.reply("Query", `{"Count": 0, "Items": []}`)

	found, err := repo.Get(context.Background(), "ghost")
	assert.Nil(t, found)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, fake.callsTo("Query"), 2)
	assert.Empty(t, fake.callsTo("GetItem"))
}

func TestDynamoGetConfirmsIndexHitWithConsistentRead(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := newDynamoDonations(client)

	fake.reply("Query", `{"Count": 1, "Items": [{"position": {"S": "P-A"}}]}`)
	fake.reply("GetItem", `{"Item": `+storedDonationA+`}`)

	item, err := repo.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "order-A", item.OrderID)

	gets := fake.callsTo("GetItem")
	require.Len(t, gets, 1)
	assert.Equal(t, true, gets[0].Body["ConsistentRead"])
	assert.Equal(t, "P-A", attr(t, gets[0].Body, "Key", "position", "S"))
	assert.Equal(t, "donation", attr(t, gets[0].Body, "Key", "queue", "S"))

	// the index still lists an item the table no longer has
	fake.reply("Query", `{"Count": 1, "Items": [{"position": {"S": "P-A"}}]}`)
	fake.reply("GetItem", `{}`)

	_, err = repo.Get(context.Background(), "A")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, fake.callsTo("Query"), 2)
}

func TestDynamoMoveToHistoryAlreadyMoved(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := newDynamoDonations(client)
	created := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	done := created.Add(time.Minute)
	item := donation("A", "order-A", created)

	moved, err := repo.MoveToHistory(context.Background(), item, types.OutcomeFinished, done)
	require.NoError(t, err)
	assert.True(t, moved)

	tx := fake.callsTo("TransactWriteItems")
	require.Len(t, tx, 1)
	ops, ok := tx[0].Body["TransactItems"].([]interface{})
	require.True(t, ok)
	require.Len(t, ops, 2)
	del := ops[0].(map[string]interface{})
	put := ops[1].(map[string]interface{})
	assert.Equal(t, "queue", attr(t, del, "Delete", "TableName"))
	assert.Equal(t, "attribute_exists(#p)", attr(t, del, "Delete", "ConditionExpression"))
	assert.Equal(t, Position(created, "A"), attr(t, del, "Delete", "Key", "position", "S"))
	assert.Equal(t, "history", attr(t, put, "Put", "TableName"))
	assert.Equal(t, Position(done, "A"), attr(t, put, "Put", "Item", "position", "S"))
	assert.Equal(t, types.OutcomeFinished, attr(t, put, "Put", "Item", "outcome", "S"))

	fake.fail("TransactWriteItems", "TransactionCanceledException",
		`,"CancellationReasons":[{"Code":"ConditionalCheckFailed","Message":"gone"},{"Code":"None"}]`)
	moved, err = repo.MoveToHistory(context.Background(), item, types.OutcomeFinished, done)
	require.NoError(t, err)
	assert.False(t, moved)

	fake.fail("TransactWriteItems", "TransactionCanceledException",
		`,"CancellationReasons":[{"Code":"TransactionConflict"},{"Code":"None"}]`)
	_, err = repo.MoveToHistory(context.Background(), item, types.OutcomeFinished, done)
	assert.Error(t, err)
}

func TestDynamoSwapProcessingStateConditions(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := NewSettingsDynamoDBRepository(client, "settings")
	ctx := context.Background()

	saved, err := repo.SwapProcessingState(ctx, 0, types.ProcessingState{Queue: types.QueueMedia, CurrentItemID: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	puts := fake.callsTo("PutItem")
	require.Len(t, puts, 1)
	assert.Equal(t, "attribute_not_exists(setting_key)", puts[0].Body["ConditionExpression"])
	assert.Equal(t, "processing#media", attr(t, puts[0].Body, "Item", "setting_key", "S"))
	assert.Equal(t, "1", attr(t, puts[0].Body, "Item", "version", "N"))

	fake.fail("PutItem", "ConditionalCheckFailedException", "")
	_, err = repo.SwapProcessingState(ctx, 3, types.ProcessingState{Queue: types.QueueMedia})
	assert.ErrorIs(t, err, ErrVersionConflict)

	puts = fake.callsTo("PutItem")
	require.Len(t, puts, 2)
	assert.Equal(t, "version = :v", puts[1].Body["ConditionExpression"])
	assert.Equal(t, "3", attr(t, puts[1].Body, "ExpressionAttributeValues", ":v", "N"))
	assert.Equal(t, "4", attr(t, puts[1].Body, "Item", "version", "N"))

	fake.fail("PutItem", "InternalServerError", "")
	_, err = repo.SwapProcessingState(ctx, 4, types.ProcessingState{Queue: types.QueueMedia})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrVersionConflict)
}

func TestDynamoSettingsKeepDefaultsForMissingAttributes(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := NewSettingsDynamoDBRepository(client, "settings")

	fake.reply("GetItem", `{"Item": {"setting_key": {"S": "channel"}, "filter_strictness": {"N": "80"}, "ai_filter_enabled": {"BOOL": false}}}`)

	settings, err := repo.LoadChannelSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 80, settings.FilterStrictness)
	assert.False(t, settings.AIFilterEnabled)
	assert.True(t, settings.DonationsEnabled)
	assert.True(t, settings.FilterEnabled)
	assert.True(t, settings.MediaRequestsEnabled)
}

func TestDynamoExistsOrderChecksBothTables(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := newDynamoDonations(client)
	ctx := context.Background()

	exists, err := repo.ExistsOrder(ctx, "")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, fake.callsTo("Query"))

	fake.reply("Query", `{"Count": 0}`)
	fake.reply("Query", `{"Count": 1}`)
	exists, err = repo.ExistsOrder(ctx, "order-A")
	require.NoError(t, err)
	assert.True(t, exists)

	queries := fake.callsTo("Query")
	require.Len(t, queries, 2)
	assert.Equal(t, "queue", queries[0].Body["TableName"])
	assert.Equal(t, "history", queries[1].Body["TableName"])
	for _, q := range queries {
		assert.Equal(t, OrderIndex, q.Body["IndexName"])
		assert.Equal(t, "order-A", attr(t, q.Body, "ExpressionAttributeValues", ":o", "S"))
		assert.Equal(t, "donation", attr(t, q.Body, "ExpressionAttributeValues", ":q", "S"))
	}

	fake.reply("Query", `{"Count": 0}`)
	fake.reply("Query", `{"Count": 0}`)
	exists, err = repo.ExistsOrder(ctx, "order-B")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDynamoPruneHistoryCutsByPosition(t *testing.T) {
	fake, client := newFakeDynamo(t)
	repo := newDynamoDonations(client)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fake.reply("Query", `{"Count": 2, "Items": [
		{"queue": {"S": "donation"}, "position": {"S": "P1"}},
		{"queue": {"S": "donation"}, "position": {"S": "P2"}}
	]}`)

	removed, err := repo.PruneHistory(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	queries := fake.callsTo("Query")
	require.Len(t, queries, 1)
	assert.Equal(t, "history", queries[0].Body["TableName"])
	assert.Equal(t, "#q = :q AND #p < :cut", queries[0].Body["KeyConditionExpression"])
	assert.Equal(t, fmt.Sprintf("%020d", cutoff.UnixNano()), attr(t, queries[0].Body, "ExpressionAttributeValues", ":cut", "S"))
	// every position completed at the cutoff sorts at or after the cut
	assert.Less(t, Position(cutoff.Add(-time.Nanosecond), "zzz"), fmt.Sprintf("%020d", cutoff.UnixNano()))
	assert.GreaterOrEqual(t, Position(cutoff, ""), fmt.Sprintf("%020d", cutoff.UnixNano()))

	deletes := fake.callsTo("DeleteItem")
	require.Len(t, deletes, 2)
	assert.Equal(t, "P1", attr(t, deletes[0].Body, "Key", "position", "S"))
	assert.Equal(t, "P2", attr(t, deletes[1].Body, "Key", "position", "S"))
}

// DynamoDB Local round trip; set DONATIONS_TEST_DYNAMODB_ENDPOINT
// (e.g. http://localhost:8000) to run it
func TestDynamoLocalQueueRoundTrip(t *testing.T) {
	endpoint := os.Getenv("DONATIONS_TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("DONATIONS_TEST_DYNAMODB_ENDPOINT not set")
	}
	ctx := context.Background()
	client := dynamodb.New(dynamodb.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		Credentials: aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "local", SecretAccessKey: "local"}, nil
		}),
	})

	suffix := fmt.Sprintf("-%d", time.Now().UnixNano())
	queueTable, historyTable, settingsTable := "queue"+suffix, "history"+suffix, "settings"+suffix
	createQueueTable(t, client, queueTable)
	createQueueTable(t, client, historyTable)
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(settingsTable),
		BillingMode:          dynamodbtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dynamodbtypes.AttributeDefinition{{AttributeName: aws.String("setting_key"), AttributeType: dynamodbtypes.ScalarAttributeTypeS}},
		KeySchema:            []dynamodbtypes.KeySchemaElement{{AttributeName: aws.String("setting_key"), KeyType: dynamodbtypes.KeyTypeHash}},
	})
	require.NoError(t, err)

	repo := NewQueueDynamoDBRepository[types.DonationItem](client, queueTable, historyTable, types.QueueDonation)
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Enqueue(ctx, donation("A", "order-A", base)))
	require.NoError(t, repo.Enqueue(ctx, donation("B", "order-B", base.Add(time.Second))))
	assert.ErrorIs(t, repo.Enqueue(ctx, donation("A", "order-A", base)), ErrDuplicate)

	head, err := repo.PeekOldest(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, "A", head.ID)

	got, err := repo.Get(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "order-B", got.OrderID)

	moved, err := repo.MoveToHistory(ctx, *head, types.OutcomeFinished, base.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, moved)
	moved, err = repo.MoveToHistory(ctx, *head, types.OutcomeFinished, base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, moved)

	_, err = repo.Get(ctx, "A")
	assert.ErrorIs(t, err, ErrNotFound)
	exists, err := repo.ExistsOrder(ctx, "order-A")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := repo.PruneHistory(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	settings := NewSettingsDynamoDBRepository(client, settingsTable)
	state, err := settings.SwapProcessingState(ctx, 0, types.ProcessingState{Queue: types.QueueDonation, CurrentItemID: "B"})
	require.NoError(t, err)
	_, err = settings.SwapProcessingState(ctx, 0, types.ProcessingState{Queue: types.QueueDonation})
	assert.ErrorIs(t, err, ErrVersionConflict)
	_, err = settings.SwapProcessingState(ctx, state.Version, types.ProcessingState{Queue: types.QueueDonation})
	require.NoError(t, err)
}

func createQueueTable(t *testing.T, client *dynamodb.Client, name string) {
	t.Helper()
	index := func(indexName, attribute string) dynamodbtypes.GlobalSecondaryIndex {
		return dynamodbtypes.GlobalSecondaryIndex{
			IndexName:  aws.String(indexName),
			KeySchema:  []dynamodbtypes.KeySchemaElement{{AttributeName: aws.String(attribute), KeyType: dynamodbtypes.KeyTypeHash}},
			Projection: &dynamodbtypes.Projection{ProjectionType: dynamodbtypes.ProjectionTypeAll},
		}
	}
	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: dynamodbtypes.BillingModePayPerRequest,
		AttributeDefinitions: []dynamodbtypes.AttributeDefinition{
			{AttributeName: aws.String("queue"), AttributeType: dynamodbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("position"), AttributeType: dynamodbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("id"), AttributeType: dynamodbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("order_id"), AttributeType: dynamodbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []dynamodbtypes.KeySchemaElement{
			{AttributeName: aws.String("queue"), KeyType: dynamodbtypes.KeyTypeHash},
			{AttributeName: aws.String("position"), KeyType: dynamodbtypes.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []dynamodbtypes.GlobalSecondaryIndex{
			index(IDIndex, "id"),
			index(OrderIndex, "order_id"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		client.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(name)})
	})
}
