// Package dynamo implements the DynamoDB helpers: finding sort keys by prefix,
// batch deleting them, and recording executions to a log table.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/gurre/lego/aws"
	"github.com/gurre/lego/logging"
	"github.com/gurre/lego/retry"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// MaxBatchSize is the most write requests a single BatchWriteItem accepts.
const MaxBatchSize = 25

// maxRetries bounds retries of non-throttling batch write failures.
const maxRetries = 5

// Key names the key schema of a table and the partition being worked on.
type Key struct {
	PartitionName  string
	PartitionValue string
	SortName       string
}

func (k Key) validate() error {
	if k.PartitionName == "" || k.SortName == "" {
		return errors.New("partition and sort key names are required")
	}
	if k.PartitionValue == "" {
		return errors.New("partition key value is required")
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = logging.OrDiscard(log) }
}

// WithBackoff sets the delays used between batch write retries.
func WithBackoff(b retry.Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// Client runs queries and batch deletes through an aws.DynamoDBClient.
type Client struct {
	client  aws.DynamoDBClient
	backoff retry.Backoff
	log     *logrus.Entry
}

// NewClient creates a Client.
func NewClient(client aws.DynamoDBClient, opts ...Option) *Client {
	c := &Client{
		client:  client,
		backoff: retry.Default(),
		log:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindSortKeys returns every sort key value in the partition that begins with
// one of prefixes. Duplicate prefixes are searched once and each key is
// returned once.
func (c *Client) FindSortKeys(ctx context.Context, table string, key Key, prefixes []string) ([]string, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	deduped := lo.Uniq(prefixes)
	c.log.Infof("Deduped the provided %d sort keys down to %d", len(prefixes), len(deduped))

	var results []string
	seen := make(map[string]bool)
	for i, prefix := range deduped {
		values, err := c.querySortKeys(ctx, table, key, prefix)
		if err != nil {
			return results, err
		}
		// Overlapping prefixes match the same keys.
		for _, v := range values {
			if !seen[v] {
				seen[v] = true
				results = append(results, v)
			}
		}

		if (i+1)%100 == 0 {
			c.log.Infof("Completed %d searches of %d after %s", i+1, len(deduped), time.Since(start))
		}
	}

	c.log.Infof("Found %d %s(s) from %d provided for %s", len(results), key.SortName, len(prefixes), key.PartitionValue)
	return results, nil
}

func (c *Client) querySortKeys(ctx context.Context, table string, key Key, prefix string) ([]string, error) {
	input := &dynamodb.QueryInput{
		TableName:              &table,
		KeyConditionExpression: lo.ToPtr("#pk = :pk AND begins_with(#sk, :sk)"),
		ProjectionExpression:   lo.ToPtr("#sk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": key.PartitionName,
			"#sk": key.SortName,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: key.PartitionValue},
			":sk": &types.AttributeValueMemberS{Value: prefix},
		},
	}

	var values []string
	p := dynamodb.NewQueryPaginator(c.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s for %s: %w", table, prefix, err)
		}
		for _, item := range page.Items {
			av, ok := item[key.SortName]
			if !ok {
				continue
			}
			var v string
			if err := attributevalue.Unmarshal(av, &v); err != nil {
				return nil, fmt.Errorf("sort key %s is not a string: %w", key.SortName, err)
			}
			values = append(values, v)
		}
	}
	return values, nil
}

// DeleteItems deletes the items in key's partition with the given sort key
// values, MaxBatchSize at a time. Repeated values are deleted once. It returns
// the number of items deleted.
func (c *Client) DeleteItems(ctx context.Context, table string, key Key, sortValues []string) (int, error) {
	if err := key.validate(); err != nil {
		return 0, err
	}
	start := time.Now()

	unique := lo.Uniq(sortValues)
	if len(unique) < len(sortValues) {
		c.log.Infof("Deduped the provided %d sort keys down to %d", len(sortValues), len(unique))
	}

	batches := lo.Chunk(unique, MaxBatchSize)
	deleted := 0
	for i, batch := range batches {
		requests := lo.Map(batch, func(sk string, _ int) types.WriteRequest {
			return types.WriteRequest{DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					key.PartitionName: &types.AttributeValueMemberS{Value: key.PartitionValue},
					key.SortName:      &types.AttributeValueMemberS{Value: sk},
				},
			}}
		})
		if err := c.writeBatch(ctx, table, requests); err != nil {
			return deleted, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
		deleted += len(batch)
		c.log.Infof("Batch %d of %d deleted", i+1, len(batches))
	}

	c.log.Infof("Completed deletion of %d %s(s) after %s", deleted, key.PartitionName, time.Since(start))
	return deleted, nil
}

// isThrottlingError returns true if the error is a DynamoDB throughput
// throttling error. These are recoverable by waiting.
func isThrottlingError(err error) bool {
	var throughputErr *types.ProvisionedThroughputExceededException
	var requestLimitErr *types.RequestLimitExceeded
	return errors.As(err, &throughputErr) || errors.As(err, &requestLimitErr)
}

// isValidationError returns true if DynamoDB rejected the request itself.
// Retrying the same request cannot succeed.
func isValidationError(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException"
}

// writeBatch sends one BatchWriteItem and retries until every request is
// processed. Throttling retries until ctx is cancelled, other errors fail
// after maxRetries attempts.
func (c *Client) writeBatch(ctx context.Context, table string, requests []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{table: requests},
	}

	attempt := 0
	for {
		output, err := c.client.BatchWriteItem(ctx, input)
		if err != nil {
			if isValidationError(err) {
				return fmt.Errorf("batch rejected: %w", err)
			}
			if !isThrottlingError(err) && attempt >= maxRetries {
				return fmt.Errorf("failed to write batch after %d retries: %w", maxRetries, err)
			}
			c.log.WithError(err).Debugf("Batch write failed, retry %d", attempt+1)
			if !c.backoff.Wait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}

		if len(output.UnprocessedItems) > 0 {
			input.RequestItems = output.UnprocessedItems
			if !c.backoff.Wait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}
		return nil
	}
}
