package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// fakeShop serves the Admin GraphQL endpoint, routing on operation name.
func fakeShop(t *testing.T, handle func(w http.ResponseWriter, req gqlRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/graphql.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Shopify-Access-Token") == "" {
			t.Error("missing access token header")
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		w.Header().Set("content-type", "application/json")
		handle(w, req)
	}))
}

func idEdges(from, to int) string {
	edges := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		edges = append(edges, fmt.Sprintf(`{"cursor":"c%d","node":{"id":"gid://shopify/Order/%d"}}`, i, i))
	}
	return strings.Join(edges, ",")
}

func TestCountSinceBelowThreshold(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		fmt.Fprintf(w, `{"data":{"orders":{"edges":[%s],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`, idEdges(1, 7))
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	n, err := c.CountSince(context.Background(), "2024-01-01T00:00:00Z", 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("count = %d, want 7", n)
	}
}

func TestCountSinceStopsAtThreshold(t *testing.T) {
	pages := 0
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		pages++
		// Every page is full and claims more data; an unbounded count would
		// loop forever.
		fmt.Fprintf(w, `{"data":{"orders":{"edges":[%s],"pageInfo":{"hasNextPage":true,"endCursor":"c%d"}}}}`,
			idEdges(1, 250), pages*250)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	n, err := c.CountSince(context.Background(), "2024-01-01T00:00:00Z", 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 250 {
		t.Fatalf("count = %d, want the full stopped page of 250", n)
	}
	if pages != 1 {
		t.Fatalf("made %d page requests, threshold should stop after 1", pages)
	}
}

func TestCountSinceAboveThresholdStaysAbove(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		fmt.Fprintf(w, `{"data":{"orders":{"edges":[%s],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`, idEdges(1, 150))
	})
	defer srv.Close()

	// 150 changed orders sit above the 100-order threshold; the count must
	// not collapse onto the threshold or the caller cannot tell the two
	// apart and would never choose a bulk export.
	c := NewClient(srv.URL, "2026-01", "token")
	n, err := c.CountSince(context.Background(), "2024-01-01T00:00:00Z", 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != 150 {
		t.Fatalf("count = %d, want 150", n)
	}
}

func TestCountSincePassesWatermarkFilter(t *testing.T) {
	var gotQuery string
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		gotQuery, _ = req.Variables["q"].(string)
		fmt.Fprint(w, `{"data":{"orders":{"edges":[],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	if _, err := c.CountSince(context.Background(), "2024-06-15T08:00:00Z", 100); err != nil {
		t.Fatal(err)
	}
	if gotQuery != "updated_at:>'2024-06-15T08:00:00Z'" {
		t.Fatalf("query filter = %q", gotQuery)
	}
}

func orderNodeJSON(id int, created string) string {
	return fmt.Sprintf(`{
		"id":"gid://shopify/Order/%d",
		"name":"#10%02d",
		"createdAt":"%s",
		"updatedAt":"%s",
		"totalPriceSet":{"shopMoney":{"amount":"10.00","currencyCode":"USD"}},
		"lineItems":{"edges":[{"node":{"id":"gid://shopify/LineItem/%d1","title":"Widget","quantity":1,"originalUnitPriceSet":{"shopMoney":{"amount":"10.00","currencyCode":"USD"}}}}]}
	}`, id, id, created, created, id)
}

func TestFetchIncrementalPagination(t *testing.T) {
	page := 0
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		page++
		switch page {
		case 1:
			if after, ok := req.Variables["after"]; ok && after != nil {
				t.Errorf("first page got cursor %v", after)
			}
			fmt.Fprintf(w, `{"data":{"orders":{"edges":[{"cursor":"c1","node":%s}],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`,
				orderNodeJSON(2, "2024-01-02T00:00:00Z"))
		case 2:
			if after, _ := req.Variables["after"].(string); after != "c1" {
				t.Errorf("second page cursor = %v", req.Variables["after"])
			}
			fmt.Fprintf(w, `{"data":{"orders":{"edges":[{"cursor":"c2","node":%s}],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`,
				orderNodeJSON(1, "2024-01-01T00:00:00Z"))
		default:
			t.Errorf("unexpected page %d", page)
		}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	orders, err := c.FetchIncremental(context.Background(), "2024-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	if orders[0].ID != "2" || orders[1].ID != "1" {
		t.Fatalf("order ids = %s, %s (want upstream order preserved)", orders[0].ID, orders[1].ID)
	}
	if len(orders[0].LineItems) != 1 {
		t.Fatalf("embedded line items not mapped: %+v", orders[0])
	}
}

func TestFetchByID(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		id, _ := req.Variables["id"].(string)
		if id != "gid://shopify/Order/42" {
			t.Errorf("id variable = %q", id)
		}
		fmt.Fprintf(w, `{"data":{"node":%s}}`, orderNodeJSON(42, "2024-01-01T00:00:00Z"))
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	o, err := c.FetchByID(context.Background(), "42")
	if err != nil {
		t.Fatal(err)
	}
	if o == nil || o.ID != "42" {
		t.Fatalf("got %+v", o)
	}
}

func TestFetchByIDNotFound(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		fmt.Fprint(w, `{"data":{"node":null}}`)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	o, err := c.FetchByID(context.Background(), "999")
	if err != nil {
		t.Fatal(err)
	}
	if o != nil {
		t.Fatalf("expected nil for deleted order, got %+v", o)
	}
}

func TestFetchByIDsSkipsFailures(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		id, _ := req.Variables["id"].(string)
		switch {
		case strings.HasSuffix(id, "/1"):
			fmt.Fprintf(w, `{"data":{"node":%s}}`, orderNodeJSON(1, "2024-01-01T00:00:00Z"))
		case strings.HasSuffix(id, "/2"):
			// GraphQL-level error for this one id.
			fmt.Fprint(w, `{"data":{"node":null},"errors":[{"message":"throttled"}]}`)
		default:
			fmt.Fprintf(w, `{"data":{"node":%s}}`, orderNodeJSON(3, "2024-01-03T00:00:00Z"))
		}
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	orders, err := c.FetchByIDs(context.Background(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2 (failed id skipped)", len(orders))
	}
}

func TestStartBulkUserErrors(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		fmt.Fprint(w, `{"data":{"bulkOperationRunQuery":{"bulkOperation":null,"userErrors":[{"field":["query"],"message":"A bulk query operation for this app and shop is already in progress"}]}}}`)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	_, err := c.StartBulk(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "already in progress") {
		t.Fatalf("err = %v", err)
	}
}

func TestStartBulkReturnsOperationID(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		q, _ := req.Variables["q"].(string)
		if !strings.Contains(q, "orders") {
			t.Errorf("bulk document missing orders query: %q", q)
		}
		fmt.Fprint(w, `{"data":{"bulkOperationRunQuery":{"bulkOperation":{"id":"gid://shopify/BulkOperation/77","status":"CREATED"},"userErrors":[]}}}`)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	id, err := c.StartBulk(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if id != "gid://shopify/BulkOperation/77" {
		t.Fatalf("id = %q", id)
	}
}

func TestCurrentOperationNone(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		fmt.Fprint(w, `{"data":{"currentBulkOperation":null}}`)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	op, err := c.CurrentOperation(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if op != nil {
		t.Fatalf("expected nil when no bulk has ever run, got %+v", op)
	}
}

func TestPollOperation(t *testing.T) {
	srv := fakeShop(t, func(w http.ResponseWriter, req gqlRequest) {
		fmt.Fprint(w, `{"data":{"node":{"id":"gid://shopify/BulkOperation/5","status":"COMPLETED","objectCount":"120","url":"https://storage.example/result.jsonl"}}}`)
	})
	defer srv.Close()

	c := NewClient(srv.URL, "2026-01", "token")
	op, err := c.PollOperation(context.Background(), "gid://shopify/BulkOperation/5")
	if err != nil {
		t.Fatal(err)
	}
	if op.Status != OpCompleted || op.URL == "" || op.ObjectCount != "120" {
		t.Fatalf("got %+v", op)
	}
}
