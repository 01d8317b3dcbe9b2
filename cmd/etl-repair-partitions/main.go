package main

import (
	"context"
	"log"

	"backend/internal/etl"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	ath := athena.NewFromConfig(cfg)

	lambda.Start(func(ctx context.Context) (etl.RepairResp, error) {
		return etl.RepairPartitions(ctx, ath)
	})
}
