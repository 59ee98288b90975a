/*
# Module: storage/settings_dynamodb.go
DynamoDB settings table holding the versioned processing state and channel settings.

## Linked Modules
- [storage/repository](./repository.go) - Repository interfaces
- [types/processing](../types/processing.go) - Processing state and channel settings

## Tags
storage, dynamodb, settings, compare-and-set

## Exports
SettingsDynamoDBRepository, NewSettingsDynamoDBRepository

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "storage/settings_dynamodb.go" ;
    code:description "DynamoDB settings table holding the versioned processing state and channel settings" ;
    code:linksTo [
        code:name "storage/repository" ;
        code:path "./repository.go" ;
        code:relationship "Repository interfaces"
    ], [
        code:name "types/processing" ;
        code:path "../types/processing.go" ;
        code:relationship "Processing state and channel settings"
    ] ;
    code:exports :SettingsDynamoDBRepository, :NewSettingsDynamoDBRepository ;
    code:tags "storage", "dynamodb", "settings", "compare-and-set" .
<!-- End LinkedDoc RDF -->
*/
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"donation-alerts/types"
)

const channelSettingsKey = "channel"

func processingKey(queue types.QueueKind) string {
	return "processing#" + string(queue)
}

// SettingsDynamoDBRepository implements StateRepository and
// SettingsRepository on a table keyed by "setting_key"
type SettingsDynamoDBRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewSettingsDynamoDBRepository creates a new DynamoDB settings repository
func NewSettingsDynamoDBRepository(client *dynamodb.Client, tableName string) *SettingsDynamoDBRepository {
	return &SettingsDynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

func (r *SettingsDynamoDBRepository) key(k string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"setting_key": &dynamodbtypes.AttributeValueMemberS{Value: k},
	}
}

// LoadProcessingState reads the state with a strongly consistent read
func (r *SettingsDynamoDBRepository) LoadProcessingState(ctx context.Context, queue types.QueueKind) (types.ProcessingState, error) {
	if r.client == nil {
		return types.ProcessingState{}, fmt.Errorf("DynamoDB client not initialized")
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(processingKey(queue)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return types.ProcessingState{}, fmt.Errorf("failed to load %s processing state: %w", queue, err)
	}

	state := types.ProcessingState{Queue: queue}
	if result.Item == nil {
		return state, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, &state); err != nil {
		return types.ProcessingState{}, fmt.Errorf("failed to unmarshal %s processing state: %w", queue, err)
	}
	state.Queue = queue
	return state, nil
}

// SwapProcessingState writes next only if the stored version equals
// expectedVersion. Version 0 means "never written".
func (r *SettingsDynamoDBRepository) SwapProcessingState(ctx context.Context, expectedVersion int64, next types.ProcessingState) (types.ProcessingState, error) {
	if r.client == nil {
		return types.ProcessingState{}, fmt.Errorf("DynamoDB client not initialized")
	}

	next.Version = expectedVersion + 1
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return types.ProcessingState{}, fmt.Errorf("failed to marshal processing state: %w", err)
	}
	item["setting_key"] = &dynamodbtypes.AttributeValueMemberS{Value: processingKey(next.Queue)}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(setting_key)")
	} else {
		input.ConditionExpression = aws.String("version = :v")
		input.ExpressionAttributeValues = map[string]dynamodbtypes.AttributeValue{
			":v": &dynamodbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		}
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return types.ProcessingState{}, ErrVersionConflict
		}
		return types.ProcessingState{}, fmt.Errorf("failed to save %s processing state: %w", next.Queue, err)
	}

	log.Debug().
		Str("queue", string(next.Queue)).
		Int64("version", next.Version).
		Str("current_item_id", next.CurrentItemID).
		Msg("💾 processing state saved")
	return next, nil
}

// LoadChannelSettings returns saved settings or the defaults
func (r *SettingsDynamoDBRepository) LoadChannelSettings(ctx context.Context) (types.ChannelSettings, error) {
	if r.client == nil {
		return types.ChannelSettings{}, fmt.Errorf("DynamoDB client not initialized")
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(channelSettingsKey),
	})
	if err != nil {
		return types.ChannelSettings{}, fmt.Errorf("failed to load channel settings: %w", err)
	}
	if result.Item == nil {
		return types.DefaultChannelSettings(), nil
	}

	// attributes missing from older records keep their defaults
	settings := types.DefaultChannelSettings()
	if err := attributevalue.UnmarshalMap(result.Item, &settings); err != nil {
		return types.ChannelSettings{}, fmt.Errorf("failed to unmarshal channel settings: %w", err)
	}
	return settings, nil
}

// SaveChannelSettings replaces the channel settings
func (r *SettingsDynamoDBRepository) SaveChannelSettings(ctx context.Context, settings types.ChannelSettings) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	item, err := attributevalue.MarshalMap(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal channel settings: %w", err)
	}
	item["setting_key"] = &dynamodbtypes.AttributeValueMemberS{Value: channelSettingsKey}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to save channel settings: %w", err)
	}
	return nil
}
