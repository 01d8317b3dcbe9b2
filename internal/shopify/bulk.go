package shopify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"backend/internal/store"
)

// Bulk operation statuses, normalized to lowercase.
const (
	OpCreated   = "created"
	OpRunning   = "running"
	OpCompleted = "completed"
	OpFailed    = "failed"
	OpCanceled  = "canceled"
)

const (
	bulkPollInterval = 60 * time.Second
	bulkPollMax      = 2 * time.Hour
)

// Operation is the state of an asynchronous bulk extraction job.
type Operation struct {
	ID          string
	Status      string
	ErrorCode   string
	URL         string
	ObjectCount string
}

// InFlight reports whether the operation is still being produced upstream.
func (op *Operation) InFlight() bool {
	return op != nil && (op.Status == OpCreated || op.Status == OpRunning)
}

type bulkOperationNode struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode"`
	ObjectCount string `json:"objectCount"`
	URL         string `json:"url"`
}

func (n *bulkOperationNode) toOperation() *Operation {
	if n == nil || n.ID == "" {
		return nil
	}
	return &Operation{
		ID:          n.ID,
		Status:      strings.ToLower(n.Status),
		ErrorCode:   n.ErrorCode,
		URL:         n.URL,
		ObjectCount: n.ObjectCount,
	}
}

// bulkDocument is the query the bulk engine runs. Line items come back as
// separate JSONL records carrying __parentId.
func bulkDocument(since *string) string {
	filter := ""
	if since != nil && *since != "" {
		filter = fmt.Sprintf("(query: \"%s\")", updatedSinceQuery(*since))
	}
	return fmt.Sprintf(`{
  orders%s {
    edges {
      node {
        %s
        lineItems {
          edges { node { id title quantity sku originalUnitPriceSet { shopMoney { amount currencyCode } } } }
        }
      }
    }
  }
}`, filter, orderFields)
}

// StartBulk submits a bulk extraction, optionally scoped to orders updated
// since the watermark, and returns the operation id without waiting.
func (c *Client) StartBulk(ctx context.Context, since *string) (string, error) {
	const mutation = `
mutation StartOrdersBulk($q: String!) {
  bulkOperationRunQuery(query: $q) {
    bulkOperation { id status }
    userErrors { field message }
  }
}`

	type runResp struct {
		BulkOperationRunQuery struct {
			BulkOperation *bulkOperationNode `json:"bulkOperation"`
			UserErrors    []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}

	vars := map[string]any{"q": bulkDocument(since)}
	resp, status, err := PostGraphQL[runResp](ctx, c.Shop, c.APIVersion, c.Token, mutation, vars)
	if err := checkGraphQL(resp, status, err, "start bulk"); err != nil {
		return "", err
	}

	run := resp.Data.BulkOperationRunQuery
	if len(run.UserErrors) > 0 {
		msgs := make([]string, 0, len(run.UserErrors))
		for _, ue := range run.UserErrors {
			msgs = append(msgs, ue.Message)
		}
		return "", fmt.Errorf("start bulk rejected: %s", strings.Join(msgs, "; "))
	}
	if run.BulkOperation == nil || run.BulkOperation.ID == "" {
		return "", fmt.Errorf("start bulk: no operation returned")
	}
	return run.BulkOperation.ID, nil
}

// CurrentOperation returns the shop's current bulk operation, or nil when
// none has ever run.
func (c *Client) CurrentOperation(ctx context.Context) (*Operation, error) {
	const query = `
query CurrentBulk {
  currentBulkOperation { id status errorCode objectCount url }
}`

	type curResp struct {
		CurrentBulkOperation *bulkOperationNode `json:"currentBulkOperation"`
	}

	resp, status, err := PostGraphQL[curResp](ctx, c.Shop, c.APIVersion, c.Token, query, nil)
	if err := checkGraphQL(resp, status, err, "current operation"); err != nil {
		return nil, err
	}
	return resp.Data.CurrentBulkOperation.toOperation(), nil
}

// PollOperation looks up one bulk operation by id.
func (c *Client) PollOperation(ctx context.Context, id string) (*Operation, error) {
	const query = `
query BulkByID($id: ID!) {
  node(id: $id) {
    ... on BulkOperation { id status errorCode objectCount url }
  }
}`

	type nodeResp struct {
		Node *bulkOperationNode `json:"node"`
	}

	resp, status, err := PostGraphQL[nodeResp](ctx, c.Shop, c.APIVersion, c.Token, query, map[string]any{"id": id})
	if err := checkGraphQL(resp, status, err, "poll operation"); err != nil {
		return nil, err
	}
	op := resp.Data.Node.toOperation()
	if op == nil {
		return nil, fmt.Errorf("bulk operation %s not found", id)
	}
	return op, nil
}

// WaitForOperation polls until the operation leaves created/running, giving
// up after two hours. The upstream job keeps running past the timeout.
func (c *Client) WaitForOperation(ctx context.Context, id string) (*Operation, error) {
	deadline := time.Now().Add(bulkPollMax)
	for {
		op, err := c.PollOperation(ctx, id)
		if err != nil {
			return nil, err
		}
		if !op.InFlight() {
			return op, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("bulk operation %s still %s after %s", id, op.Status, bulkPollMax)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bulkPollInterval):
		}
	}
}

// DownloadResult opens the JSONL result file of a completed operation.
func (c *Client) DownloadResult(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download bulk result: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		res.Body.Close()
		return nil, fmt.Errorf("download bulk result: status %d", res.StatusCode)
	}
	return res.Body, nil
}

// DownloadAndParse streams the result file and returns normalized orders.
func (c *Client) DownloadAndParse(ctx context.Context, url string) ([]store.Order, error) {
	body, err := c.DownloadResult(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return ParseBulkResult(body)
}

// ParseBulkResult reads newline-delimited JSON records. Top-level Order
// records become orders; LineItem records are stitched onto their parent via
// __parentId. Malformed lines are logged and skipped so one bad record does
// not abort the file.
func ParseBulkResult(r io.Reader) ([]store.Order, error) {
	type probe struct {
		ID       string `json:"id"`
		ParentID string `json:"__parentId"`
	}

	var orderGIDs []string
	nodes := make(map[string]*orderNode)
	items := make(map[string][]lineItemNode)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var p probe
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			log.Printf("bulk parse: line %d skipped: %v", lineNo, err)
			continue
		}

		switch {
		case p.ParentID == "" && strings.Contains(p.ID, "/Order/"):
			var n orderNode
			if err := json.Unmarshal([]byte(line), &n); err != nil {
				log.Printf("bulk parse: order line %d skipped: %v", lineNo, err)
				continue
			}
			if _, seen := nodes[n.ID]; !seen {
				orderGIDs = append(orderGIDs, n.ID)
			}
			nodes[n.ID] = &n
		case p.ParentID != "" && strings.Contains(p.ID, "/LineItem/"):
			var li lineItemNode
			if err := json.Unmarshal([]byte(line), &li); err != nil {
				log.Printf("bulk parse: line item line %d skipped: %v", lineNo, err)
				continue
			}
			items[p.ParentID] = append(items[p.ParentID], li)
		default:
			// Some other record type slipped into the file; not ours.
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read bulk result: %w", err)
	}

	orders := make([]store.Order, 0, len(orderGIDs))
	for _, gid := range orderGIDs {
		n := nodes[gid]
		lines := items[gid]
		if lines == nil {
			lines = []lineItemNode{}
		}
		orders = append(orders, orderFromNode(*n, lines))
	}
	return orders, nil
}
