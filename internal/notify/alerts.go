package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the slice of the SNS client the notifier needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier publishes sync outcomes to an SNS topic. Publishing is
// best-effort; a failed publish never fails the sync.
type Notifier struct {
	client   SNSAPI
	topicArn string
}

func New(client SNSAPI, topicArn string) *Notifier {
	return &Notifier{client: client, topicArn: topicArn}
}

func (n *Notifier) publish(ctx context.Context, subject string, lines []string) {
	if n == nil || n.client == nil || strings.TrimSpace(n.topicArn) == "" {
		return
	}

	lines = append(lines, "", fmt.Sprintf("At: %s", time.Now().UTC().Format(time.RFC3339)))

	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(strings.Join(lines, "\n")),
	})
	if err != nil {
		log.Printf("notify: publish %q failed: %v", subject, err)
	}
}

func (n *Notifier) BulkSyncCompleted(ctx context.Context, operationID string, synced int) {
	n.publish(ctx, "Order sync: bulk completed", []string{
		"Bulk order sync finalized.",
		"",
		fmt.Sprintf("Operation: %s", operationID),
		fmt.Sprintf("Orders synced: %d", synced),
	})
}

func (n *Notifier) BulkSyncFailed(ctx context.Context, operationID, reason string) {
	n.publish(ctx, "Order sync: bulk FAILED", []string{
		"Bulk order sync failed.",
		"",
		fmt.Sprintf("Operation: %s", operationID),
		fmt.Sprintf("Reason: %s", reason),
	})
}
