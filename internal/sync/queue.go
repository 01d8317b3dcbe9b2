package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// FinalizeTask asks a worker to download and persist the result of a
// completed bulk operation.
type FinalizeTask struct {
	OperationID string `json:"operationId"`
	URL         string `json:"url,omitempty"`
}

// TaskSubmitter hands a finalize task off for background execution. The
// caller gets control back immediately; completion is observed by polling
// the bulk state.
type TaskSubmitter interface {
	Submit(ctx context.Context, task FinalizeTask) error
}

// SQSAPI is the slice of the SQS client the queue submitter needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueSubmitter enqueues finalize tasks on SQS so they survive process
// death and are retried on worker failure.
type QueueSubmitter struct {
	Client   SQSAPI
	QueueURL string
}

func NewQueueSubmitter(client SQSAPI, queueURL string) *QueueSubmitter {
	return &QueueSubmitter{Client: client, QueueURL: queueURL}
}

func (q *QueueSubmitter) Submit(ctx context.Context, task FinalizeTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal finalize task: %w", err)
	}

	_, err = q.Client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"type": {
				DataType:    aws.String("String"),
				StringValue: aws.String("bulk-finalize"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("enqueue finalize task: %w", err)
	}
	return nil
}

// InlineSubmitter runs the task in a goroutine within the current process.
// Used when no queue is configured, and in tests. The goroutine gets a fresh
// context so the originating request's cancellation doesn't kill the work.
type InlineSubmitter struct {
	Run func(ctx context.Context, task FinalizeTask) error
}

func (s *InlineSubmitter) Submit(_ context.Context, task FinalizeTask) error {
	go func() {
		if err := s.Run(context.Background(), task); err != nil {
			log.Printf("bulk-finalize: operation %s failed: %v", task.OperationID, err)
		}
	}()
	return nil
}
