package mock

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	legoaws "github.com/gurre/lego/aws"
)

var _ legoaws.DynamoDBClient = (*DynamoDBClient)(nil)

// keyCondition matches "pk = :v" optionally followed by
// "AND begins_with(sk, :v)". Names may be #placeholders.
var keyCondition = regexp.MustCompile(`^\s*(\S+)\s*=\s*(:\S+)\s*(?:AND\s+begins_with\(\s*([^,\s]+)\s*,\s*(:[^)\s]+)\s*\))?\s*$`)

type table struct {
	pk, sk string
	items  map[string]map[string]types.AttributeValue
}

// DynamoDBClient is an in-memory implementation of aws.DynamoDBClient.
// Tables must be created with CreateTable before use.
type DynamoDBClient struct {
	mu     sync.Mutex
	tables map[string]*table
	puts   []dynamodb.PutItemInput

	batchWrites int
	throttle    int
	unprocess   int

	// PageSize limits the items returned per Query call, zero means no limit.
	PageSize int
}

// NewDynamoDBClient creates a new mock DynamoDB client
func NewDynamoDBClient() *DynamoDBClient {
	return &DynamoDBClient{tables: make(map[string]*table)}
}

// CreateTable registers a table keyed by the pk and sk attributes.
func (m *DynamoDBClient) CreateTable(name, pk, sk string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = &table{pk: pk, sk: sk, items: make(map[string]map[string]types.AttributeValue)}
}

// attributeToString converts an AttributeValue to a string for key generation
func attributeToString(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	default:
		return ""
	}
}

func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	pk, sk := attributeToString(item[t.pk]), attributeToString(item[t.sk])
	if pk == "" || sk == "" {
		return "", fmt.Errorf("item is missing key attributes %s and %s", t.pk, t.sk)
	}
	return pk + "#" + sk, nil
}

func (m *DynamoDBClient) table(name *string) (*table, error) {
	t, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

// AddItem stores item in the named table.
func (m *DynamoDBClient) AddItem(tableName string, item map[string]types.AttributeValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.table(&tableName)
	if err != nil {
		return err
	}
	k, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.items[k] = item
	return nil
}

// ItemCount returns the number of items in the named table.
func (m *DynamoDBClient) ItemCount(tableName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// ThrottleNext makes the next n BatchWriteItem calls fail with
// ProvisionedThroughputExceededException.
func (m *DynamoDBClient) ThrottleNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttle = n
}

// UnprocessNext makes the next n BatchWriteItem calls leave their last
// request unprocessed.
func (m *DynamoDBClient) UnprocessNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unprocess = n
}

// BatchWrites returns the number of BatchWriteItem calls made.
func (m *DynamoDBClient) BatchWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchWrites
}

// Puts returns every PutItem request made.
func (m *DynamoDBClient) Puts() []dynamodb.PutItemInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dynamodb.PutItemInput(nil), m.puts...)
}

// checkDuplicateKeys rejects a batch that targets the same key twice.
func checkDuplicateKeys(t *table, requests []types.WriteRequest) error {
	seen := make(map[string]bool, len(requests))
	for _, req := range requests {
		var item map[string]types.AttributeValue
		switch {
		case req.PutRequest != nil:
			item = req.PutRequest.Item
		case req.DeleteRequest != nil:
			item = req.DeleteRequest.Key
		}
		k, err := t.keyOf(item)
		if err != nil {
			return err
		}
		if seen[k] {
			return &smithy.GenericAPIError{
				Code:    "ValidationException",
				Message: "Provided list of item keys contains duplicates",
			}
		}
		seen[k] = true
	}
	return nil
}

// BatchWriteItem applies put and delete requests.
func (m *DynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchWrites++
	if m.throttle > 0 {
		m.throttle--
		return nil, &types.ProvisionedThroughputExceededException{Message: aws.String("simulated throttling")}
	}

	unprocessed := make(map[string][]types.WriteRequest)
	for tableName, requests := range params.RequestItems {
		t, err := m.table(&tableName)
		if err != nil {
			return nil, err
		}
		if err := checkDuplicateKeys(t, requests); err != nil {
			return nil, err
		}
		if m.unprocess > 0 && len(requests) > 0 {
			m.unprocess--
			unprocessed[tableName] = requests[len(requests)-1:]
			requests = requests[:len(requests)-1]
		}
		for _, req := range requests {
			switch {
			case req.PutRequest != nil:
				k, err := t.keyOf(req.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				t.items[k] = req.PutRequest.Item
			case req.DeleteRequest != nil:
				k, err := t.keyOf(req.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(t.items, k)
			}
		}
	}

	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}

// PutItem records the request without storing the item.
func (m *DynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.puts = append(m.puts, *params)
	return &dynamodb.PutItemOutput{}, nil
}

// Query supports an equality condition on the partition key and an optional
// begins_with on the sort key. Results are ordered by sort key.
func (m *DynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	match := keyCondition.FindStringSubmatch(aws.ToString(params.KeyConditionExpression))
	if match == nil {
		return nil, fmt.Errorf("unsupported key condition: %s", aws.ToString(params.KeyConditionExpression))
	}
	name := func(ref string) string {
		if n, ok := params.ExpressionAttributeNames[ref]; ok {
			return n
		}
		return ref
	}
	value := func(ref string) string {
		return attributeToString(params.ExpressionAttributeValues[ref])
	}

	pkName, pkValue := name(match[1]), value(match[2])
	var skName, prefix string
	if match[3] != "" {
		skName, prefix = name(match[3]), value(match[4])
	}

	var items []map[string]types.AttributeValue
	for _, item := range t.items {
		if attributeToString(item[pkName]) != pkValue {
			continue
		}
		if skName != "" && !strings.HasPrefix(attributeToString(item[skName]), prefix) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return attributeToString(items[i][t.sk]) < attributeToString(items[j][t.sk])
	})

	if params.ExclusiveStartKey != nil {
		after := attributeToString(params.ExclusiveStartKey[t.sk])
		for len(items) > 0 && attributeToString(items[0][t.sk]) <= after {
			items = items[1:]
		}
	}

	out := &dynamodb.QueryOutput{}
	if m.PageSize > 0 && len(items) > m.PageSize {
		items = items[:m.PageSize]
		last := items[len(items)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{t.pk: last[t.pk], t.sk: last[t.sk]}
	}
	out.Items = items
	out.Count = int32(len(items))
	return out, nil
}
