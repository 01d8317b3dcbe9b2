package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"backend/internal/metrics"

	"github.com/aws/aws-lambda-go/events"
)

func metricsReq(method string, days string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{RawPath: "/metrics"}
	req.RequestContext.HTTP.Method = method
	if days != "" {
		req.QueryStringParameters = map[string]string{"days": days}
	}
	return req
}

func TestMetricsMethodNotAllowed(t *testing.T) {
	resp, _ := MetricsHandler(context.Background(), metricsReq("POST", ""))
	if resp.StatusCode != 405 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsRejectsBadDays(t *testing.T) {
	for _, days := range []string{"0", "-5", "366", "abc"} {
		resp, _ := MetricsHandler(context.Background(), metricsReq("GET", days))
		if resp.StatusCode != 400 {
			t.Fatalf("days %q: status = %d, want 400", days, resp.StatusCode)
		}
	}
}

func TestMetricsMissingTableEnv(t *testing.T) {
	t.Setenv("ORDERS_TABLE", "")
	resp, _ := MetricsHandler(context.Background(), metricsReq("GET", "7"))
	if resp.StatusCode != 500 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsResponseKeys(t *testing.T) {
	body, err := json.Marshal(metricsResponse{
		Metrics: []metrics.DailyMetric{{Date: "2024-01-01", OrderCount: 2, Revenue: 30, ShippingCost: 5}},
		Summary: metrics.Summary{TotalOrders: 2, TotalRevenue: 30},
	})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if _, ok := got["metrics"]; !ok {
		t.Fatalf("missing metrics array: %s", body)
	}
	if _, ok := got["summary"]; !ok {
		t.Fatalf("missing summary: %s", body)
	}
	if _, ok := got["daily"]; ok {
		t.Fatalf("unexpected daily key: %s", body)
	}
}
