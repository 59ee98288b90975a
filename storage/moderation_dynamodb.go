/*
# Module: storage/moderation_dynamodb.go
DynamoDB repositories for payer/video bans and the banned-term list.

## Linked Modules
- [storage/repository](./repository.go) - Repository interfaces
- [types/ban](../types/ban.go) - Ban entries and banned terms

## Tags
storage, dynamodb, moderation, bans

## Exports
BanDynamoDBRepository, NewBanDynamoDBRepository, TermDynamoDBRepository, NewTermDynamoDBRepository

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "storage/moderation_dynamodb.go" ;
    code:description "DynamoDB repositories for payer/video bans and the banned-term list" ;
    code:linksTo [
        code:name "types/ban" ;
        code:path "../types/ban.go" ;
        code:relationship "Ban entries and banned terms"
    ] ;
    code:exports :BanDynamoDBRepository, :NewBanDynamoDBRepository, :TermDynamoDBRepository, :NewTermDynamoDBRepository ;
    code:tags "storage", "dynamodb", "moderation", "bans" .
<!-- End LinkedDoc RDF -->
*/
package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"donation-alerts/types"
)

// BanDynamoDBRepository implements BanRepository; key is (kind, value)
type BanDynamoDBRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewBanDynamoDBRepository creates a new DynamoDB ban repository
func NewBanDynamoDBRepository(client *dynamodb.Client, tableName string) *BanDynamoDBRepository {
	return &BanDynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

// PutBan stores or replaces a ban
func (r *BanDynamoDBRepository) PutBan(ctx context.Context, ban types.Ban) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	item, err := attributevalue.MarshalMap(ban)
	if err != nil {
		return fmt.Errorf("failed to marshal ban: %w", err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to save ban to DynamoDB: %w", err)
	}

	log.Info().Str("kind", string(ban.Kind)).Str("reason", ban.Reason).Msg("🚫 ban saved to DynamoDB")
	return nil
}

// DeleteBan removes a ban
func (r *BanDynamoDBRepository) DeleteBan(ctx context.Context, kind types.BanKind, value string) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"kind":  &dynamodbtypes.AttributeValueMemberS{Value: string(kind)},
			"value": &dynamodbtypes.AttributeValueMemberS{Value: value},
		},
	}); err != nil {
		return fmt.Errorf("failed to remove ban from DynamoDB: %w", err)
	}
	return nil
}

// ListBans returns every ban of a kind, expired ones included
func (r *BanDynamoDBRepository) ListBans(ctx context.Context, kind types.BanKind) ([]types.Ban, error) {
	if r.client == nil {
		return nil, fmt.Errorf("DynamoDB client not initialized")
	}

	var bans []types.Ban
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(r.tableName),
			KeyConditionExpression:   aws.String("#k = :k"),
			ExpressionAttributeNames: map[string]string{"#k": "kind"},
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":k": &dynamodbtypes.AttributeValueMemberS{Value: string(kind)},
			},
			ExclusiveStartKey: lastEvaluatedKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query %s bans: %w", kind, err)
		}

		for _, item := range result.Items {
			var ban types.Ban
			if err := attributevalue.UnmarshalMap(item, &ban); err != nil {
				log.Warn().Err(err).Msg("⚠️  failed to unmarshal ban")
				continue
			}
			bans = append(bans, ban)
		}

		lastEvaluatedKey = result.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			return bans, nil
		}
	}
}

// TermDynamoDBRepository implements TermRepository; key is "term"
type TermDynamoDBRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewTermDynamoDBRepository creates a new DynamoDB banned-term repository
func NewTermDynamoDBRepository(client *dynamodb.Client, tableName string) *TermDynamoDBRepository {
	return &TermDynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

// AddTerm stores a banned term
func (r *TermDynamoDBRepository) AddTerm(ctx context.Context, term types.BannedTerm) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	item, err := attributevalue.MarshalMap(term)
	if err != nil {
		return fmt.Errorf("failed to marshal banned term: %w", err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to save banned term: %w", err)
	}
	return nil
}

// RemoveTerm deletes a banned term
func (r *TermDynamoDBRepository) RemoveTerm(ctx context.Context, term string) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"term": &dynamodbtypes.AttributeValueMemberS{Value: term},
		},
	}); err != nil {
		return fmt.Errorf("failed to remove banned term: %w", err)
	}
	return nil
}

// ListTerms scans the whole term table
func (r *TermDynamoDBRepository) ListTerms(ctx context.Context) ([]types.BannedTerm, error) {
	if r.client == nil {
		return nil, fmt.Errorf("DynamoDB client not initialized")
	}

	var terms []types.BannedTerm
	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		input := &dynamodb.ScanInput{
			TableName: aws.String(r.tableName),
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		result, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan banned terms: %w", err)
		}

		for _, item := range result.Items {
			var term types.BannedTerm
			if err := attributevalue.UnmarshalMap(item, &term); err != nil {
				log.Warn().Err(err).Msg("⚠️  failed to unmarshal banned term")
				continue
			}
			terms = append(terms, term)
		}

		lastEvaluatedKey = result.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			break
		}
	}

	log.Debug().Int("count", len(terms)).Msg("📋 loaded banned terms from DynamoDB")
	return terms, nil
}
