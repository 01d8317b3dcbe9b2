package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"backend/internal/config"
	"backend/internal/db"
	"backend/internal/notify"
	"backend/internal/shopify"
	"backend/internal/store"
	syncer "backend/internal/sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

func handler(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	orch, err := buildOrchestrator(ctx)
	if err != nil {
		// Fail whole batch (infra issue)
		return events.SQSEventResponse{}, err
	}

	failures := make([]events.SQSBatchItemFailure, 0)

	for _, rec := range sqsEvent.Records {
		if err := processOne(ctx, orch, rec.Body); err != nil {
			// Log + mark this message as failed so it retries (or goes to DLQ)
			log.Printf("bulk-finalizer: msgId=%s failed: %v", rec.MessageId, err)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}

	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func processOne(ctx context.Context, orch *syncer.Orchestrator, body string) error {
	var task syncer.FinalizeTask
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		return fmt.Errorf("unmarshal finalize task: %w", err)
	}
	if task.OperationID == "" {
		// Malformed message; retrying cannot help.
		log.Printf("bulk-finalizer: dropping task with empty operation id")
		return nil
	}
	return orch.Finalize(ctx, task)
}

func buildOrchestrator(ctx context.Context) (*syncer.Orchestrator, error) {
	ordersTable := db.OrdersTableName()
	syncTable := db.SyncTableName()
	if strings.TrimSpace(ordersTable) == "" || strings.TrimSpace(syncTable) == "" {
		return nil, fmt.Errorf("ORDERS_TABLE and SYNC_TABLE must be set")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return nil, err
	}

	shop, err := config.ShopDomain()
	if err != nil {
		return nil, err
	}
	ssmClient, err := config.NewSSMClient(ctx)
	if err != nil {
		return nil, err
	}
	token, err := config.AccessToken(ctx, ssmClient)
	if err != nil {
		return nil, err
	}

	remote := shopify.NewClient(shop, config.APIVersion(), token)
	orch := syncer.NewOrchestrator(
		remote,
		store.NewOrderStore(ddb, ordersTable),
		store.NewSyncStore(ddb, syncTable),
		nil, // worker consumes tasks, never submits them
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	if topic := strings.TrimSpace(os.Getenv("SYNC_ALERTS_TOPIC_ARN")); topic != "" {
		orch.WithNotifier(notify.New(sns.NewFromConfig(awsCfg), topic))
	}
	if bucket := strings.TrimSpace(os.Getenv("BULK_ARCHIVE_BUCKET")); bucket != "" {
		orch.WithArchiver(syncer.NewBulkArchiver(s3.NewFromConfig(awsCfg), bucket, remote.DownloadResult))
	}

	return orch, nil
}

func main() {
	lambda.Start(handler)
}
