package main

import (
	"context"
	"log"
	"strings"

	"backend/internal/db"
	"backend/internal/etl"
	"backend/internal/store"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	ordersTable := db.OrdersTableName()
	if strings.TrimSpace(ordersTable) == "" {
		log.Fatalf("ORDERS_TABLE is not set")
	}
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		log.Fatalf("init dynamodb: %v", err)
	}

	h := etl.NewDailyMetricsETL(store.NewOrderStore(ddb, ordersTable), s3.NewFromConfig(cfg))
	lambda.Start(h.Handle)
}
