package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory stand-in for DynamoDB that understands just
// the expressions this package issues. Not a general emulator.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	putCalls   int
	queryCalls int
	scanCalls  int
	getCalls   int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if item == nil {
		return ""
	}
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return strAttr(item, "PK")
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++

	item, ok := m.items[strAttr(params.Key, "PK")]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++

	if params.Item == nil {
		return nil, errors.New("nil item")
	}
	k := itemKey(params.Item)

	if params.ConditionExpression != nil {
		// Only the upsert condition is supported:
		// attribute_not_exists(PK) OR UpdatedAt <= :u
		if *params.ConditionExpression != "attribute_not_exists(PK) OR UpdatedAt <= :u" {
			return nil, errors.New("unsupported condition: " + *params.ConditionExpression)
		}
		if existing, ok := m.items[k]; ok {
			stored := strAttr(existing, "UpdatedAt")
			incoming := ""
			if v, ok := params.ExpressionAttributeValues[":u"].(*types.AttributeValueMemberS); ok {
				incoming = v.Value
			}
			if stored > incoming {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}

	m.items[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := strAttr(params.Key, "PK")
	item, exists := m.items[k]
	if !exists {
		item = map[string]types.AttributeValue{}
		for name, v := range params.Key {
			item[name] = v
		}
	}

	if params.ConditionExpression != nil {
		// Only the finalize claim condition is supported:
		// OperationID = :op AND attribute_not_exists(FinalizeClaimedAt)
		if *params.ConditionExpression != "OperationID = :op AND attribute_not_exists(FinalizeClaimedAt)" {
			return nil, errors.New("unsupported condition: " + *params.ConditionExpression)
		}
		if !exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
		wantOp := ""
		if v, ok := params.ExpressionAttributeValues[":op"].(*types.AttributeValueMemberS); ok {
			wantOp = v.Value
		}
		if strAttr(item, "OperationID") != wantOp {
			return nil, &types.ConditionalCheckFailedException{}
		}
		if _, claimed := item["FinalizeClaimedAt"]; claimed {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	applyUpdateExpression(item, *params.UpdateExpression, params.ExpressionAttributeValues)
	m.items[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

// applyUpdateExpression handles "SET a = :x, b = :y REMOVE c" shapes, which is
// all this package uses.
func applyUpdateExpression(item map[string]types.AttributeValue, expr string, vals map[string]types.AttributeValue) {
	removePart := ""
	if i := strings.Index(expr, "REMOVE"); i >= 0 {
		removePart = strings.TrimSpace(expr[i+len("REMOVE"):])
		expr = strings.TrimSpace(expr[:i])
	}
	expr = strings.TrimSpace(strings.TrimPrefix(expr, "SET"))
	for _, assign := range strings.Split(expr, ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		ref := strings.TrimSpace(parts[1])
		if v, ok := vals[ref]; ok {
			item[name] = v
		}
	}
	for _, name := range strings.Split(removePart, ",") {
		if name = strings.TrimSpace(name); name != "" {
			delete(item, name)
		}
	}
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++

	pk := ""
	if v, ok := params.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS); ok {
		pk = v.Value
	}
	since := ""
	if v, ok := params.ExpressionAttributeValues[":since"].(*types.AttributeValueMemberS); ok {
		since = v.Value
	}

	var matched []map[string]types.AttributeValue
	for _, item := range m.items {
		if strAttr(item, "GSI1PK") != pk {
			continue
		}
		if since != "" && strAttr(item, "GSI1SK") < since {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		return strAttr(matched[i], "GSI1SK") < strAttr(matched[j], "GSI1SK")
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	// ExclusiveStartKey: resume after the item with the given PK.
	start := 0
	if params.ExclusiveStartKey != nil {
		afterPK := strAttr(params.ExclusiveStartKey, "PK")
		for i, item := range matched {
			if strAttr(item, "PK") == afterPK {
				start = i + 1
				break
			}
		}
	}
	matched = matched[start:]

	var lastKey map[string]types.AttributeValue
	if params.Limit != nil && len(matched) > int(*params.Limit) {
		matched = matched[:int(*params.Limit)]
		last := matched[len(matched)-1]
		lastKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: strAttr(last, "PK")},
		}
	}

	if params.Select == types.SelectCount {
		return &dyn.QueryOutput{Count: int32(len(matched)), LastEvaluatedKey: lastKey}, nil
	}
	return &dyn.QueryOutput{Items: matched, Count: int32(len(matched)), LastEvaluatedKey: lastKey}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++

	fulfilled := ""
	if v, ok := params.ExpressionAttributeValues[":f"].(*types.AttributeValueMemberS); ok {
		fulfilled = v.Value
	}

	var matched []map[string]types.AttributeValue
	for _, item := range m.items {
		if _, ok := item["OrderID"]; !ok {
			continue
		}
		if fs := strAttr(item, "FulfillmentStatus"); fs == fulfilled && fs != "" {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		return strAttr(matched[i], "PK") < strAttr(matched[j], "PK")
	})
	return &dyn.ScanOutput{Items: matched, Count: int32(len(matched))}, nil
}

