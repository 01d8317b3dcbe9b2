package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"strings"

	"backend/internal/store"
	syncer "backend/internal/sync"

	"github.com/aws/aws-lambda-go/events"
)

type syncRequest struct {
	Sync bool `json:"sync"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type orderListResponse struct {
	Orders     []store.Order `json:"orders"`
	Pagination pagination    `json:"pagination"`
}

type syncResponse struct {
	Success     bool   `json:"success"`
	Method      string `json:"method,omitempty"`
	Status      string `json:"status,omitempty"`
	OperationID string `json:"operationId,omitempty"`
	Synced      int    `json:"synced"`
	New         int    `json:"new"`
	Updated     int    `json:"updated"`
}

// OrdersHandler routes the /orders endpoints.
//
//	GET  /orders                 list stored orders (paginated)
//	GET  /orders?status=bulk     poll the pending bulk operation
//	POST /orders {"sync":true}   trigger a sync run
//	GET  /orders/{id}            fetch a stored order
//	POST /orders/{id}            re-fetch one order from Shopify
func OrdersHandler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	env, err := buildSyncEnv(ctx)
	if err != nil {
		log.Printf("orders: env setup failed: %v", err)
		return errResp(500, err.Error())
	}

	path := strings.TrimSuffix(req.RawPath, "/")
	method := req.RequestContext.HTTP.Method

	if path == "/orders" {
		switch method {
		case "GET":
			if strings.EqualFold(req.QueryStringParameters["status"], "bulk") {
				return bulkStatus(ctx, env)
			}
			return listOrders(ctx, env, req)
		case "POST":
			return triggerSync(ctx, env, req.Body)
		default:
			return errResp(405, "method not allowed")
		}
	}

	if id, ok := strings.CutPrefix(path, "/orders/"); ok && id != "" && !strings.Contains(id, "/") {
		switch method {
		case "GET":
			return getOrder(ctx, env, id)
		case "POST":
			return refreshOrder(ctx, env, id)
		default:
			return errResp(405, "method not allowed")
		}
	}

	return errResp(404, "not found")
}

func listOrders(ctx context.Context, env *syncEnv, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	page := 1
	if s := strings.TrimSpace(req.QueryStringParameters["page"]); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			page = n
		}
	}
	limit := 20
	if s := strings.TrimSpace(req.QueryStringParameters["limit"]); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 250 {
			limit = n
		}
	}

	orders, total, totalPages, err := env.orders.Paginate(ctx, page, limit)
	if err != nil {
		log.Printf("orders: paginate failed: %v", err)
		return errResp(500, "failed to list orders")
	}

	out := make([]store.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Serialize())
	}

	return jsonResp(200, orderListResponse{
		Orders: out,
		Pagination: pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

func triggerSync(ctx context.Context, env *syncEnv, body string) (events.APIGatewayV2HTTPResponse, error) {
	var in syncRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil || !in.Sync {
		return errResp(400, `expected body {"sync": true}`)
	}

	res, err := env.orch.Run(ctx)
	if err != nil {
		var conflict *syncer.ConflictError
		if errors.As(err, &conflict) {
			return jsonResp(409, syncResponse{
				Status:      "pending",
				OperationID: conflict.OperationID,
			})
		}
		log.Printf("orders: sync failed: %v", err)
		return errResp(500, "sync failed")
	}

	if res.Method == "bulk" {
		return jsonResp(202, syncResponse{
			Success:     true,
			Method:      res.Method,
			Status:      res.Status,
			OperationID: res.OperationID,
		})
	}

	return jsonResp(200, syncResponse{
		Success: true,
		Method:  res.Method,
		Synced:  res.Synced,
		New:     res.New,
		Updated: res.Updated,
	})
}

func bulkStatus(ctx context.Context, env *syncEnv) (events.APIGatewayV2HTTPResponse, error) {
	st, err := env.orch.BulkStatus(ctx)
	if err != nil {
		log.Printf("orders: bulk status failed: %v", err)
		return errResp(500, "failed to check bulk status")
	}
	return jsonResp(200, st)
}

func getOrder(ctx context.Context, env *syncEnv, id string) (events.APIGatewayV2HTTPResponse, error) {
	o, err := env.orders.GetByID(ctx, id)
	if err != nil {
		log.Printf("orders: get %s failed: %v", id, err)
		return errResp(500, "failed to load order")
	}
	if o == nil {
		return errResp(404, "order not found")
	}
	return jsonResp(200, o.Serialize())
}

func refreshOrder(ctx context.Context, env *syncEnv, id string) (events.APIGatewayV2HTTPResponse, error) {
	o, err := env.orch.RefreshOrder(ctx, id)
	if err != nil {
		log.Printf("orders: refresh %s failed: %v", id, err)
		return errResp(502, "failed to refresh order from shopify")
	}
	if o == nil {
		return errResp(404, "order not found on shopify")
	}
	return jsonResp(200, o.Serialize())
}
