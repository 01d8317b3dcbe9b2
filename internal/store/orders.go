package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	orderSK   = "ORDER"
	listGSI   = "GSI1"
	listGSIPK = "ORDERS"
	// In-flight limit for UpsertBatch writes.
	batchWriteConcurrency = 10
)

func orderPK(id string) string {
	return fmt.Sprintf("ORDER#%s", id)
}

// OrderStore reads and writes order records.
//
// Layout: PK=ORDER#<id>, SK=ORDER. GSI1 keeps every order under one constant
// partition with GSI1SK=<createdAt>#<id>, so a reverse query lists newest
// first (RFC3339 sorts lexicographically).
type OrderStore struct {
	client  db.DynamoDBAPI
	table   string
	nowFunc func() time.Time
}

func NewOrderStore(client db.DynamoDBAPI, table string) *OrderStore {
	return &OrderStore{client: client, table: table, nowFunc: time.Now}
}

func (s *OrderStore) applyKeys(o *Order) {
	o.PK = orderPK(o.ID)
	o.SK = orderSK
	o.GSI1PK = listGSIPK
	o.GSI1SK = fmt.Sprintf("%s#%s", o.CreatedAt, o.ID)
	if o.SyncStatus == "" {
		o.SyncStatus = SyncStatusSuccess
	}
	o.SyncedAt = s.nowFunc().UTC().Format(time.RFC3339)
}

// Upsert writes one order, last-write-wins keyed by the source updated_at.
// A write carrying an older updated_at than the stored record is dropped;
// returns false in that case.
func (s *OrderStore) Upsert(ctx context.Context, o Order) (bool, error) {
	if o.ID == "" {
		return false, errors.New("order id is required")
	}
	s.applyKeys(&o)

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return false, fmt.Errorf("marshal order %s: %w", o.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR UpdatedAt <= :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberS{Value: o.UpdatedAt},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			// Stored record is newer; keep it.
			return false, nil
		}
		return false, fmt.Errorf("put order %s: %w", o.ID, err)
	}
	return true, nil
}

// UpsertBatch writes orders through the same conditional put as Upsert, with
// bounded concurrency. BatchWriteItem cannot carry conditions, and a bulk
// snapshot is minutes stale by the time it lands; an unconditional batch
// would regress records a webhook wrote in the meantime. Stale entries are
// silently kept as stored; duplicates inside one run are resolved by the
// caller's merge step before this is called.
func (s *OrderStore) UpsertBatch(ctx context.Context, orders []Order) error {
	sem := make(chan struct{}, batchWriteConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, o := range orders {
		if o.ID == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(o Order) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := s.Upsert(ctx, o); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(o)
	}
	wg.Wait()
	return firstErr
}

// GetByID returns the order, or nil when it does not exist.
func (s *OrderStore) GetByID(ctx context.Context, id string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: orderPK(id)},
			"SK": &types.AttributeValueMemberS{Value: orderSK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// SetSyncStatus updates just the sync bookkeeping fields on an order.
func (s *OrderStore) SetSyncStatus(ctx context.Context, id, status, syncErr string) error {
	expr := "SET SyncStatus = :s, SyncedAt = :t"
	vals := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: status},
		":t": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
	}
	if syncErr != "" {
		expr += ", SyncError = :e"
		vals[":e"] = &types.AttributeValueMemberS{Value: syncErr}
	} else {
		expr += " REMOVE SyncError"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: orderPK(id)},
			"SK": &types.AttributeValueMemberS{Value: orderSK},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeValues: vals,
	})
	if err != nil {
		return fmt.Errorf("set sync status for %s: %w", id, err)
	}
	return nil
}

// Paginate returns one page of orders newest-first, plus total count and
// page count. DynamoDB has no offset, so the query walks ExclusiveStartKey
// pages up to the requested one.
func (s *OrderStore) Paginate(ctx context.Context, page, pageSize int) ([]Order, int, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	total, err := s.countAll(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	totalPages := (total + pageSize - 1) / pageSize

	var startKey map[string]types.AttributeValue
	for i := 1; i <= page; i++ {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(listGSI),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: listGSIPK},
			},
			ScanIndexForward:  aws.Bool(false),
			Limit:             aws.Int32(int32(pageSize)),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, 0, 0, fmt.Errorf("list orders: %w", err)
		}

		if i == page {
			var orders []Order
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &orders); err != nil {
				return nil, 0, 0, err
			}
			return orders, total, totalPages, nil
		}

		if out.LastEvaluatedKey == nil || len(out.LastEvaluatedKey) == 0 {
			// Requested page is past the end.
			return []Order{}, total, totalPages, nil
		}
		startKey = out.LastEvaluatedKey
	}

	return []Order{}, total, totalPages, nil
}

func (s *OrderStore) countAll(ctx context.Context) (int, error) {
	total := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(listGSI),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: listGSIPK},
			},
			Select:            types.SelectCount,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("count orders: %w", err)
		}
		total += int(out.Count)
		if out.LastEvaluatedKey == nil || len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return total, nil
}

// OrdersSince returns all orders created at or after the given RFC3339
// timestamp, ascending by creation time.
func (s *OrderStore) OrdersSince(ctx context.Context, sinceISO string) ([]Order, error) {
	var orders []Order
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(listGSI),
			KeyConditionExpression: aws.String("GSI1PK = :pk AND GSI1SK >= :since"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":    &types.AttributeValueMemberS{Value: listGSIPK},
				":since": &types.AttributeValueMemberS{Value: sinceISO},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("orders since %s: %w", sinceISO, err)
		}
		var pageOrders []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &pageOrders); err != nil {
			return nil, err
		}
		orders = append(orders, pageOrders...)

		if out.LastEvaluatedKey == nil || len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return orders, nil
}

// GetUnfulfilled returns orders whose fulfillment status is absent or not
// terminal, capped to avoid unbounded re-fetch storms.
func (s *OrderStore) GetUnfulfilled(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 1000
	}

	var orders []Order
	var startKey map[string]types.AttributeValue
	for len(orders) < limit {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: startKey,
			FilterExpression:  aws.String("attribute_exists(OrderID) AND (attribute_not_exists(FulfillmentStatus) OR FulfillmentStatus <> :f)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":f": &types.AttributeValueMemberS{Value: FulfillmentFulfilled},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scan unfulfilled: %w", err)
		}
		var pageOrders []Order
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &pageOrders); err != nil {
			return nil, err
		}
		for _, o := range pageOrders {
			orders = append(orders, o)
			if len(orders) >= limit {
				break
			}
		}

		if out.LastEvaluatedKey == nil || len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return orders, nil
}
