package shopify

import (
	"context"
	"fmt"
	"log"
	"sync"

	"backend/internal/store"
)

const (
	pageSize = 250
	// FetchIncremental stops after this many orders; anything larger should
	// have gone through a bulk operation.
	incrementalCap = 10000
	// In-flight limit for FetchByIDs.
	batchFetchConcurrency = 10
)

// Client talks to one shop's Admin GraphQL API.
type Client struct {
	Shop       string
	APIVersion string
	Token      string
}

func NewClient(shop, apiVersion, token string) *Client {
	return &Client{Shop: shop, APIVersion: apiVersion, Token: token}
}

const orderFields = `
id
name
email
createdAt
updatedAt
displayFinancialStatus
displayFulfillmentStatus
totalPriceSet { shopMoney { amount currencyCode } }
subtotalPriceSet { shopMoney { amount currencyCode } }
totalTaxSet { shopMoney { amount currencyCode } }
totalShippingPriceSet { shopMoney { amount currencyCode } }
shippingAddress { name address1 address2 city province country zip phone }
customer { id email firstName lastName }
`

type ordersPage[N any] struct {
	Orders struct {
		Edges []struct {
			Cursor string `json:"cursor"`
			Node   N      `json:"node"`
		} `json:"edges"`
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
	} `json:"orders"`
}

func updatedSinceQuery(since string) string {
	return fmt.Sprintf("updated_at:>'%s'", since)
}

// CountSince counts orders updated after the watermark, stopping as soon as
// the threshold is reached. The result is exact below the threshold; at or
// above it the count stops at the current page, so it can overshoot by up to
// one page. The sync strategy decision only needs to know which side of the
// threshold the delta falls on.
func (c *Client) CountSince(ctx context.Context, since string, threshold int) (int, error) {
	if threshold <= 0 {
		threshold = 100
	}

	const countQuery = `
query OrdersCount($first: Int!, $after: String, $q: String!) {
  orders(first: $first, after: $after, query: $q) {
    edges { cursor node { id } }
    pageInfo { hasNextPage endCursor }
  }
}`

	type idNode struct {
		ID string `json:"id"`
	}

	count := 0
	var after *string
	for count < threshold {
		vars := map[string]any{
			"first": pageSize,
			"after": after,
			"q":     updatedSinceQuery(since),
		}
		resp, status, err := PostGraphQL[ordersPage[idNode]](ctx, c.Shop, c.APIVersion, c.Token, countQuery, vars)
		if err := checkGraphQL(resp, status, err, "count orders"); err != nil {
			return 0, err
		}

		count += len(resp.Data.Orders.Edges)
		if !resp.Data.Orders.PageInfo.HasNextPage || resp.Data.Orders.PageInfo.EndCursor == "" {
			break
		}
		cur := resp.Data.Orders.PageInfo.EndCursor
		after = &cur
	}

	return count, nil
}

// FetchIncremental pages through every order updated after the watermark and
// returns them normalized, in the upstream order (creation time descending).
func (c *Client) FetchIncremental(ctx context.Context, since string) ([]store.Order, error) {
	fetchQuery := fmt.Sprintf(`
query OrdersSync($first: Int!, $after: String, $q: String!) {
  orders(first: $first, after: $after, query: $q, sortKey: CREATED_AT, reverse: true) {
    edges {
      cursor
      node {
        %s
        lineItems(first: 50) {
          edges { node { id title quantity sku originalUnitPriceSet { shopMoney { amount currencyCode } } } }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`, orderFields)

	var orders []store.Order
	var after *string
	for len(orders) < incrementalCap {
		vars := map[string]any{
			"first": pageSize,
			"after": after,
			"q":     updatedSinceQuery(since),
		}
		resp, status, err := PostGraphQL[ordersPage[orderNode]](ctx, c.Shop, c.APIVersion, c.Token, fetchQuery, vars)
		if err := checkGraphQL(resp, status, err, "fetch orders"); err != nil {
			return nil, err
		}

		for _, e := range resp.Data.Orders.Edges {
			orders = append(orders, orderFromNode(e.Node, nil))
		}

		if !resp.Data.Orders.PageInfo.HasNextPage || resp.Data.Orders.PageInfo.EndCursor == "" {
			break
		}
		cur := resp.Data.Orders.PageInfo.EndCursor
		after = &cur
	}

	return orders, nil
}

// FetchByID fetches one order by its bare id.
func (c *Client) FetchByID(ctx context.Context, id string) (*store.Order, error) {
	nodeQuery := fmt.Sprintf(`
query OrderByID($id: ID!) {
  node(id: $id) {
    ... on Order {
      %s
      lineItems(first: 50) {
        edges { node { id title quantity sku originalUnitPriceSet { shopMoney { amount currencyCode } } } }
      }
    }
  }
}`, orderFields)

	type nodeResp struct {
		Node *orderNode `json:"node"`
	}

	vars := map[string]any{"id": fmt.Sprintf("gid://shopify/Order/%s", id)}
	resp, status, err := PostGraphQL[nodeResp](ctx, c.Shop, c.APIVersion, c.Token, nodeQuery, vars)
	if err := checkGraphQL(resp, status, err, "fetch order "+id); err != nil {
		return nil, err
	}
	if resp.Data.Node == nil || resp.Data.Node.ID == "" {
		// Deleted or never-existed id. Not an error; callers decide.
		return nil, nil
	}

	o := orderFromNode(*resp.Data.Node, nil)
	return &o, nil
}

// FetchByIDs point-fetches a set of orders with bounded concurrency.
// Per-id failures are logged and skipped; one bad id must not sink the batch.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]store.Order, error) {
	results := make([]*store.Order, len(ids))
	sem := make(chan struct{}, batchFetchConcurrency)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			o, err := c.FetchByID(ctx, id)
			if err != nil {
				log.Printf("batch fetch: order %s skipped: %v", id, err)
				return
			}
			results[i] = o
		}(i, id)
	}
	wg.Wait()

	orders := make([]store.Order, 0, len(ids))
	for _, o := range results {
		if o != nil {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}
