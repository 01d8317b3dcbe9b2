package handlers

import (
	"context"
	"log"
	"strconv"
	"strings"

	"backend/internal/db"
	"backend/internal/metrics"
	"backend/internal/store"

	"github.com/aws/aws-lambda-go/events"
)

type metricsResponse struct {
	Metrics []metrics.DailyMetric `json:"metrics"`
	Summary metrics.Summary       `json:"summary"`
}

// MetricsHandler serves GET /metrics?days=N (default 30) from stored orders.
func MetricsHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RequestContext.HTTP.Method != "GET" {
		return errResp(405, "method not allowed")
	}

	days := 30
	if s := strings.TrimSpace(req.QueryStringParameters["days"]); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 365 {
			return errResp(400, "days must be between 1 and 365")
		}
		days = n
	}

	ordersTable := db.OrdersTableName()
	if strings.TrimSpace(ordersTable) == "" {
		return errResp(500, "ORDERS_TABLE is not set")
	}
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		log.Printf("metrics: dynamodb init failed: %v", err)
		return errResp(500, "failed to init dynamodb")
	}

	agg := metrics.NewAggregator(store.NewOrderStore(ddb, ordersTable))
	daily, summary, err := agg.Window(ctx, days)
	if err != nil {
		log.Printf("metrics: aggregate failed: %v", err)
		return errResp(500, "failed to compute metrics")
	}

	return jsonResp(200, metricsResponse{
		Metrics: daily,
		Summary: summary,
	})
}
