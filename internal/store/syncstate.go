package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Bulk operation lifecycle. Only one operation may be pending at a time.
const (
	BulkStatusIdle      = "idle"
	BulkStatusPending   = "pending"
	BulkStatusCompleted = "completed"
	BulkStatusFailed    = "failed"
	BulkStatusCanceled  = "canceled"
)

const (
	metadataPK = "SYNC#METADATA"
	bulkPK     = "SYNC#BULK"

	bulkCacheTTL = 60 * time.Second
)

// BulkState is the singleton bulk-operation record.
type BulkState struct {
	PK                string `dynamodbav:"PK" json:"-"`
	Status            string `dynamodbav:"SyncStatus" json:"status"`
	OperationID       string `dynamodbav:"OperationID,omitempty" json:"operationId,omitempty"`
	Synced            *int   `dynamodbav:"Synced,omitempty" json:"synced,omitempty"`
	UpdatedAt         string `dynamodbav:"UpdatedAt" json:"updatedAt"`
	FinalizeClaimedAt string `dynamodbav:"FinalizeClaimedAt,omitempty" json:"-"`
}

type syncMetadata struct {
	PK         string `dynamodbav:"PK"`
	LastSyncAt string `dynamodbav:"LastSyncAt,omitempty"`
}

// SyncStore persists the watermark and the bulk state machine. Bulk reads go
// through a short TTL cache; every write invalidates it.
type SyncStore struct {
	client  db.DynamoDBAPI
	table   string
	cache   *TTLCache
	nowFunc func() time.Time
}

func NewSyncStore(client db.DynamoDBAPI, table string) *SyncStore {
	return &SyncStore{
		client:  client,
		table:   table,
		cache:   NewTTLCache(bulkCacheTTL),
		nowFunc: time.Now,
	}
}

// LastSyncAt returns the watermark, or "" before the first successful sync.
func (s *SyncStore) LastSyncAt(ctx context.Context) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: metadataPK},
		},
	})
	if err != nil {
		return "", fmt.Errorf("get sync metadata: %w", err)
	}
	if out.Item == nil {
		return "", nil
	}
	var meta syncMetadata
	if err := attributevalue.UnmarshalMap(out.Item, &meta); err != nil {
		return "", err
	}
	return meta.LastSyncAt, nil
}

// SetLastSyncAt advances the watermark. Callers must only do this after the
// batch writes it covers have succeeded.
func (s *SyncStore) SetLastSyncAt(ctx context.Context, iso string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: metadataPK},
		},
		UpdateExpression: aws.String("SET LastSyncAt = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: iso},
		},
	})
	if err != nil {
		return fmt.Errorf("set LastSyncAt: %w", err)
	}
	return nil
}

// BulkState returns the current bulk record, served from cache within its TTL.
func (s *SyncStore) BulkState(ctx context.Context) (BulkState, error) {
	if st, ok := s.cache.Get(); ok {
		return st, nil
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: bulkPK},
		},
	})
	if err != nil {
		return BulkState{}, fmt.Errorf("get bulk state: %w", err)
	}

	st := BulkState{Status: BulkStatusIdle}
	if out.Item != nil {
		if err := attributevalue.UnmarshalMap(out.Item, &st); err != nil {
			return BulkState{}, err
		}
		if st.Status == "" {
			st.Status = BulkStatusIdle
		}
	}
	s.cache.Set(st)
	return st, nil
}

func (s *SyncStore) writeBulk(ctx context.Context, st BulkState) error {
	st.PK = bulkPK
	st.UpdatedAt = s.nowFunc().UTC().Format(time.RFC3339)

	item, err := attributevalue.MarshalMap(st)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put bulk state: %w", err)
	}
	s.cache.Invalidate()
	return nil
}

// SetBulkPending records a freshly started operation, clearing any claim and
// count from an earlier one.
func (s *SyncStore) SetBulkPending(ctx context.Context, operationID string) error {
	return s.writeBulk(ctx, BulkState{Status: BulkStatusPending, OperationID: operationID})
}

// SetBulkIdle records a finalized operation with its synced count.
func (s *SyncStore) SetBulkIdle(ctx context.Context, operationID string, synced int) error {
	return s.writeBulk(ctx, BulkState{Status: BulkStatusIdle, OperationID: operationID, Synced: &synced})
}

func (s *SyncStore) SetBulkFailed(ctx context.Context, operationID string) error {
	return s.writeBulk(ctx, BulkState{Status: BulkStatusFailed, OperationID: operationID})
}

func (s *SyncStore) SetBulkCanceled(ctx context.Context, operationID string) error {
	return s.writeBulk(ctx, BulkState{Status: BulkStatusCanceled, OperationID: operationID})
}

// ClaimFinalize marks the operation as being finalized. The conditional
// update admits exactly one winner, also across processes and restarts.
// Returns false when another caller already holds the claim.
func (s *SyncStore) ClaimFinalize(ctx context.Context, operationID string) (bool, error) {
	now := s.nowFunc().UTC().Format(time.RFC3339)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: bulkPK},
		},
		ConditionExpression: aws.String("OperationID = :op AND attribute_not_exists(FinalizeClaimedAt)"),
		UpdateExpression:    aws.String("SET FinalizeClaimedAt = :t, SyncStatus = :s, UpdatedAt = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":op": &types.AttributeValueMemberS{Value: operationID},
			":t":  &types.AttributeValueMemberS{Value: now},
			":s":  &types.AttributeValueMemberS{Value: BulkStatusPending},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return false, nil
		}
		return false, fmt.Errorf("claim finalize: %w", err)
	}

	s.cache.Invalidate()
	return true, nil
}

// Cache exposes the TTL cache for tests that need to inject a clock.
func (s *SyncStore) Cache() *TTLCache {
	return s.cache
}
