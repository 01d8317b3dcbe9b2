package handlers

import (
	"context"
	"encoding/base64"
	"log"
	"strings"

	"backend/internal/config"
	"backend/internal/db"
	"backend/internal/security"
	"backend/internal/shopify"
	"backend/internal/store"

	"github.com/aws/aws-lambda-go/events"
)

const hmacHeader = "x-shopify-hmac-sha256"

// WebhooksHandler ingests Shopify order webhooks.
//
//	POST /webhooks/orders         orders/create
//	POST /webhooks/orders/update  orders/updated
//
// The HMAC check runs over the exact raw bytes Shopify signed; any rewrite of
// the body before verification breaks the signature.
func WebhooksHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	path := strings.TrimSuffix(req.RawPath, "/")
	if path != "/webhooks/orders" && path != "/webhooks/orders/update" {
		return errResp(404, "not found")
	}
	if req.RequestContext.HTTP.Method != "POST" {
		return errResp(405, "method not allowed")
	}

	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return errResp(400, "invalid body encoding")
		}
		raw = decoded
	}

	provided := headerValue(req.Headers, hmacHeader)
	if provided == "" {
		return errResp(401, "missing hmac header")
	}

	ssmClient, err := config.NewSSMClient(ctx)
	if err != nil {
		log.Printf("webhooks: ssm init failed: %v", err)
		return errResp(500, "failed to init config")
	}
	secret, err := config.WebhookSecret(ctx, ssmClient)
	if err != nil {
		log.Printf("webhooks: secret lookup failed: %v", err)
		return errResp(500, "webhook secret not configured")
	}

	if !security.VerifyWebhookHMAC(raw, provided, secret) {
		log.Printf("webhooks: hmac mismatch on %s", path)
		return errResp(401, "invalid hmac")
	}

	order, err := shopify.OrderFromWebhook(raw)
	if err != nil {
		log.Printf("webhooks: bad payload on %s: %v", path, err)
		return errResp(400, "invalid order payload")
	}

	ordersTable := db.OrdersTableName()
	if strings.TrimSpace(ordersTable) == "" {
		return errResp(500, "ORDERS_TABLE is not set")
	}
	ddb, err := db.NewDynamoClient(ctx)
	if err != nil {
		log.Printf("webhooks: dynamodb init failed: %v", err)
		return errResp(500, "failed to init dynamodb")
	}

	written, err := store.NewOrderStore(ddb, ordersTable).Upsert(ctx, order)
	if err != nil {
		log.Printf("webhooks: upsert order %s failed: %v", order.ID, err)
		return errResp(500, "failed to store order")
	}
	if !written {
		// A newer copy is already stored; acknowledge so Shopify stops retrying.
		log.Printf("webhooks: order %s stale, kept stored copy", order.ID)
	}

	return jsonResp(200, map[string]any{
		"success": true,
		"orderId": order.ID,
	})
}

// headerValue does a case-insensitive header lookup; API Gateway does not
// normalize header casing.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
