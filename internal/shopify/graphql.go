package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

type GraphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []GraphQLError `json:"errors"`
}

func PostGraphQL[T any](ctx context.Context, shopDomain, apiVersion, accessToken string, query string, variables any) (*GraphQLResponse[T], int, error) {
	// A shop value carrying an explicit scheme is used as-is (dev proxies).
	base := "https://" + shopDomain
	if strings.Contains(shopDomain, "://") {
		base = shopDomain
	}
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", base, apiVersion)

	body := map[string]any{
		"query":     query,
		"variables": variables,
	}
	b, _ := json.Marshal(body)

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	req.Header.Set("content-type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", accessToken)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)

	var out GraphQLResponse[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, res.StatusCode, err
	}

	return &out, res.StatusCode, nil
}

func flattenGraphQLErrors(errs []GraphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.Extensions.Code != "" {
			msgs = append(msgs, e.Message+" ("+e.Extensions.Code+")")
		} else {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

// checkGraphQL turns transport and GraphQL-level failures into one error.
func checkGraphQL[T any](resp *GraphQLResponse[T], status int, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s: shopify status %d", op, status)
	}
	if len(resp.Errors) > 0 {
		return fmt.Errorf("%s: shopify graphql: %s", op, flattenGraphQLErrors(resp.Errors))
	}
	return nil
}
