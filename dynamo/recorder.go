package dynamo

import (
	"context"
	"fmt"
	"math"
	"os/user"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gurre/lego/aws"
	"github.com/gurre/lego/logging"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// DefaultLogTable receives execution records.
const DefaultLogTable = "prod-cloudlog"

// CapturedArgs are the argument names whose values are stored with a record.
// Other argument names are stored without their values.
var CapturedArgs = []string{"environment", "url", "config_key", "method", "value"}

// Execution is one recorded run of a named function.
type Execution struct {
	Username         string            `dynamodbav:"username"`
	StartTime        string            `dynamodbav:"start_time"`
	FunctionName     string            `dynamodbav:"function_name"`
	DurationMS       float64           `dynamodbav:"duration_ms"`
	CapturedArgs     map[string]string `dynamodbav:"captured_args"`
	UncapturedArgs   []string          `dynamodbav:"uncaptured_args,stringset,omitempty"`
	Success          bool              `dynamodbav:"success"`
	ExceptionMessage string            `dynamodbav:"exception_message,omitempty"`
}

// Recorder writes an Execution to a DynamoDB table for every Record call.
type Recorder struct {
	client   aws.DynamoDBClient
	table    string
	username string
	log      *logrus.Entry
	now      func() time.Time

	// Check, when set, runs before every Record. A failure skips both the
	// function and the record.
	Check func(ctx context.Context) error
}

// NewRecorder creates a Recorder writing to table as the current OS user.
func NewRecorder(client aws.DynamoDBClient, table string, log *logrus.Entry) *Recorder {
	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}
	return &Recorder{
		client:   client,
		table:    table,
		username: username,
		log:      logging.OrDiscard(log),
		now:      time.Now,
	}
}

// SetUsername overrides the recorded username.
func (r *Recorder) SetUsername(name string) {
	r.username = name
}

// Record runs fn and writes its outcome under name. Only values of
// CapturedArgs are stored, other argument names are listed as uncaptured.
// fn's error is returned; a failure to write the record is only logged.
func (r *Recorder) Record(ctx context.Context, name string, args map[string]any, fn func(ctx context.Context) error) error {
	if r.Check != nil {
		if err := r.Check(ctx); err != nil {
			r.log.WithError(err).Error("Cannot log without active AWS session")
			return fmt.Errorf("cannot record %s: %w", name, err)
		}
	}

	start := r.now().UTC()
	runErr := fn(ctx)
	elapsed := r.now().Sub(start)

	exec := Execution{
		Username:     r.username,
		StartTime:    start.Format("2006-01-02T15:04:05.000000Z"),
		FunctionName: name,
		DurationMS:   math.Round(float64(elapsed.Microseconds())/1000*10000) / 10000,
		CapturedArgs: map[string]string{},
		Success:      runErr == nil,
	}
	for k, v := range args {
		if lo.Contains(CapturedArgs, k) {
			exec.CapturedArgs[k] = fmt.Sprint(v)
		} else {
			exec.UncapturedArgs = append(exec.UncapturedArgs, k)
		}
	}
	sort.Strings(exec.UncapturedArgs)
	if runErr != nil {
		exec.ExceptionMessage = runErr.Error()
		r.log.Error(runErr.Error())
	}

	if err := r.put(ctx, exec); err != nil {
		r.log.WithError(err).Warnf("Failed to record execution of %s", name)
	}
	return runErr
}

func (r *Recorder) put(ctx context.Context, exec Execution) error {
	item, err := attributevalue.MarshalMap(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &r.table,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put execution into %s: %w", r.table, err)
	}
	return nil
}
