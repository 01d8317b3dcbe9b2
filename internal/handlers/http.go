package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"backend/internal/config"
	"backend/internal/db"
	"backend/internal/notify"
	"backend/internal/shopify"
	"backend/internal/store"
	syncer "backend/internal/sync"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
}

func errResp(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"error": msg,
	})
}

// syncEnv bundles everything the order endpoints need. Built per invocation;
// Lambda reuses the handler process so the SDK clients warm up once.
type syncEnv struct {
	orders *store.OrderStore
	state  *store.SyncStore
	remote *shopify.Client
	orch   *syncer.Orchestrator
}

func buildSyncEnv(ctx context.Context) (*syncEnv, error) {
	ordersTable := db.OrdersTableName()
	if strings.TrimSpace(ordersTable) == "" {
		return nil, fmt.Errorf("ORDERS_TABLE is not set")
	}
	syncTable := db.SyncTableName()
	if strings.TrimSpace(syncTable) == "" {
		return nil, fmt.Errorf("SYNC_TABLE is not set")
	}

	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init dynamodb: %w", err)
	}

	shop, err := config.ShopDomain()
	if err != nil {
		return nil, err
	}

	ssmClient, err := config.NewSSMClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init ssm: %w", err)
	}
	token, err := config.AccessToken(ctx, ssmClient)
	if err != nil {
		return nil, err
	}

	remote := shopify.NewClient(shop, config.APIVersion(), token)
	ordersStore := store.NewOrderStore(ddb, ordersTable)
	stateStore := store.NewSyncStore(ddb, syncTable)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	orch := syncer.NewOrchestrator(remote, ordersStore, stateStore, nil)

	var tasks syncer.TaskSubmitter
	if queueURL := strings.TrimSpace(os.Getenv("FINALIZE_QUEUE_URL")); queueURL != "" {
		tasks = syncer.NewQueueSubmitter(sqs.NewFromConfig(awsCfg), queueURL)
	} else {
		// No queue configured: finalize in-process off the request path.
		tasks = &syncer.InlineSubmitter{Run: func(ctx context.Context, task syncer.FinalizeTask) error {
			return orch.Finalize(ctx, task)
		}}
	}
	orch.WithTasks(tasks)

	if topic := strings.TrimSpace(os.Getenv("SYNC_ALERTS_TOPIC_ARN")); topic != "" {
		orch.WithNotifier(notify.New(sns.NewFromConfig(awsCfg), topic))
	}
	if bucket := strings.TrimSpace(os.Getenv("BULK_ARCHIVE_BUCKET")); bucket != "" {
		orch.WithArchiver(syncer.NewBulkArchiver(s3.NewFromConfig(awsCfg), bucket, remote.DownloadResult))
	}

	return &syncEnv{
		orders: ordersStore,
		state:  stateStore,
		remote: remote,
		orch:   orch,
	}, nil
}
