/*
# Module: storage/jobs_dynamodb.go
DynamoDB repositories for donation drafts and durable ingestion jobs.

## Linked Modules
- [storage/repository](./repository.go) - Repository interfaces
- [types/ingest](../types/ingest.go) - Ingestion jobs
- [types/donation](../types/donation.go) - Donation drafts

## Tags
storage, dynamodb, jobs, ingestion

## Exports
JobDynamoDBRepository, NewJobDynamoDBRepository, DraftDynamoDBRepository, NewDraftDynamoDBRepository

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "storage/jobs_dynamodb.go" ;
    code:description "DynamoDB repositories for donation drafts and durable ingestion jobs" ;
    code:linksTo [
        code:name "types/ingest" ;
        code:path "../types/ingest.go" ;
        code:relationship "Ingestion jobs"
    ] ;
    code:exports :JobDynamoDBRepository, :NewJobDynamoDBRepository, :DraftDynamoDBRepository, :NewDraftDynamoDBRepository ;
    code:tags "storage", "dynamodb", "jobs", "ingestion" .
<!-- End LinkedDoc RDF -->
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"donation-alerts/types"
)

// JobDynamoDBRepository implements JobRepository; key is "id"
type JobDynamoDBRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewJobDynamoDBRepository creates a new DynamoDB job repository
func NewJobDynamoDBRepository(client *dynamodb.Client, tableName string) *JobDynamoDBRepository {
	return &JobDynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

// CreateJob stores a new job unless the id is taken
func (r *JobDynamoDBRepository) CreateJob(ctx context.Context, job types.IngestJob) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	log.Debug().Str("job_id", job.ID).Msg("💾 ingestion job created")
	return nil
}

// ClaimJob scans for claimable jobs and leases the oldest one with a
// conditional update so two workers cannot take the same job
func (r *JobDynamoDBRepository) ClaimJob(ctx context.Context, now time.Time, lease time.Duration) (*types.IngestJob, error) {
	candidates, err := r.scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		ConsistentRead:   aws.Bool(true),
		FilterExpression: aws.String("#s IN (:pending, :failed, :processing)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":pending":    &dynamodbtypes.AttributeValueMemberS{Value: types.JobPending},
			":failed":     &dynamodbtypes.AttributeValueMemberS{Value: types.JobFailed},
			":processing": &dynamodbtypes.AttributeValueMemberS{Value: types.JobProcessing},
		},
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	for _, job := range candidates {
		if !job.Claimable(now) {
			continue
		}

		claimed, err := r.claim(ctx, job, now, lease)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

func (r *JobDynamoDBRepository) claim(ctx context.Context, job types.IngestJob, now time.Time, lease time.Duration) (*types.IngestJob, error) {
	values := map[string]interface{}{
		":processing": types.JobProcessing,
		":lease":      now.Add(lease),
		":one":        1,
		":now":        now,
		":old":        job.Status,
		":oldUpdated": job.UpdatedAt,
	}
	av, err := attributevalue.MarshalMap(values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claim values: %w", err)
	}

	result, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"id": &dynamodbtypes.AttributeValueMemberS{Value: job.ID},
		},
		UpdateExpression:          aws.String("SET #s = :processing, lease_until = :lease, attempts = attempts + :one, updated_at = :now"),
		ConditionExpression:       aws.String("#s = :old AND updated_at = :oldUpdated"),
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: av,
		ReturnValues:              dynamodbtypes.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}

	var claimed types.IngestJob
	if err := attributevalue.UnmarshalMap(result.Attributes, &claimed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claimed job: %w", err)
	}
	return &claimed, nil
}

// SaveJob replaces a job
func (r *JobDynamoDBRepository) SaveJob(ctx context.Context, job types.IngestJob) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a job or ErrNotFound
func (r *JobDynamoDBRepository) GetJob(ctx context.Context, id string) (*types.IngestJob, error) {
	if r.client == nil {
		return nil, fmt.Errorf("DynamoDB client not initialized")
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"id": &dynamodbtypes.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var job types.IngestJob
	if err := attributevalue.UnmarshalMap(result.Item, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs with the given status, or all jobs for ""
func (r *JobDynamoDBRepository) ListJobs(ctx context.Context, status string) ([]types.IngestJob, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	}
	if status != "" {
		input.FilterExpression = aws.String("#s = :s")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = map[string]dynamodbtypes.AttributeValue{
			":s": &dynamodbtypes.AttributeValueMemberS{Value: status},
		}
	}

	jobs, err := r.scan(ctx, input)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (r *JobDynamoDBRepository) scan(ctx context.Context, input *dynamodb.ScanInput) ([]types.IngestJob, error) {
	if r.client == nil {
		return nil, fmt.Errorf("DynamoDB client not initialized")
	}

	var jobs []types.IngestJob
	for {
		result, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan jobs: %w", err)
		}

		for _, item := range result.Items {
			var job types.IngestJob
			if err := attributevalue.UnmarshalMap(item, &job); err != nil {
				log.Warn().Err(err).Msg("⚠️  failed to unmarshal job")
				continue
			}
			jobs = append(jobs, job)
		}

		if result.LastEvaluatedKey == nil {
			return jobs, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// DraftDynamoDBRepository implements DraftRepository; key is "order_id".
// Drafts carry an expires_at TTL attribute.
type DraftDynamoDBRepository struct {
	client    *dynamodb.Client
	tableName string
}

// NewDraftDynamoDBRepository creates a new DynamoDB draft repository
func NewDraftDynamoDBRepository(client *dynamodb.Client, tableName string) *DraftDynamoDBRepository {
	return &DraftDynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

// SaveDraft stores a donation draft
func (r *DraftDynamoDBRepository) SaveDraft(ctx context.Context, draft types.DonationDraft) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	item, err := attributevalue.MarshalMap(draft)
	if err != nil {
		return fmt.Errorf("failed to marshal draft: %w", err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// GetDraft returns a draft or ErrNotFound
func (r *DraftDynamoDBRepository) GetDraft(ctx context.Context, orderID string) (*types.DonationDraft, error) {
	if r.client == nil {
		return nil, fmt.Errorf("DynamoDB client not initialized")
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"order_id": &dynamodbtypes.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var draft types.DonationDraft
	if err := attributevalue.UnmarshalMap(result.Item, &draft); err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft: %w", err)
	}
	return &draft, nil
}

// DeleteDraft removes a draft
func (r *DraftDynamoDBRepository) DeleteDraft(ctx context.Context, orderID string) error {
	if r.client == nil {
		return fmt.Errorf("DynamoDB client not initialized")
	}

	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"order_id": &dynamodbtypes.AttributeValueMemberS{Value: orderID},
		},
	}); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}
