package shopify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backend/internal/store"
)

const fallbackCurrency = "USD"

type money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type moneySet struct {
	ShopMoney money `json:"shopMoney"`
}

type addressNode struct {
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	Province string `json:"province"`
	Country  string `json:"country"`
	Zip      string `json:"zip"`
	Phone    string `json:"phone"`
}

type lineItemNode struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	Quantity             int    `json:"quantity"`
	SKU                  string `json:"sku"`
	OriginalUnitPriceSet moneySet `json:"originalUnitPriceSet"`
}

type customerNode struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type orderNode struct {
	ID                       string       `json:"id"`
	Name                     string       `json:"name"`
	Email                    string       `json:"email"`
	CreatedAt                string       `json:"createdAt"`
	UpdatedAt                string       `json:"updatedAt"`
	DisplayFinancialStatus   string       `json:"displayFinancialStatus"`
	DisplayFulfillmentStatus string       `json:"displayFulfillmentStatus"`
	TotalPriceSet            moneySet     `json:"totalPriceSet"`
	SubtotalPriceSet         moneySet     `json:"subtotalPriceSet"`
	TotalTaxSet              moneySet     `json:"totalTaxSet"`
	TotalShippingPriceSet    moneySet     `json:"totalShippingPriceSet"`
	ShippingAddress          *addressNode `json:"shippingAddress"`
	Customer                 *customerNode `json:"customer"`
	LineItems                struct {
		Edges []struct {
			Node lineItemNode `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

// StripGID reduces "gid://shopify/Order/123" to "123". Bare ids pass through.
func StripGID(gid string) string {
	if i := strings.LastIndex(gid, "/"); i >= 0 {
		return gid[i+1:]
	}
	return gid
}

func normalizeMoney(amount string) string {
	if strings.TrimSpace(amount) == "" {
		return "0"
	}
	return amount
}

func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return fallbackCurrency
	}
	return code
}

// parseOrderNumber extracts the numeric part of a Shopify order name like
// "#1042" or "EN1042".
func parseOrderNumber(name string) int {
	digits := strings.Builder{}
	for _, r := range name {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, _ := strconv.Atoi(digits.String())
	return n
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeTimestamp rewrites an ISO-8601 timestamp to UTC RFC3339. REST
// webhook payloads carry the shop's local offset while GraphQL returns Z
// strings; stored timestamps are compared lexicographically (sort keys,
// range filters, the last-write guard), so mixed offsets would mis-order.
// Unparseable values pass through untouched.
func normalizeTimestamp(s string) string {
	if s == "" {
		return s
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.RFC3339)
}

func orderFromNode(n orderNode, items []lineItemNode) store.Order {
	o := store.Order{
		ID:                StripGID(n.ID),
		OrderNumber:       parseOrderNumber(n.Name),
		Email:             n.Email,
		TotalPrice:        normalizeMoney(n.TotalPriceSet.ShopMoney.Amount),
		SubtotalPrice:     normalizeMoney(n.SubtotalPriceSet.ShopMoney.Amount),
		TotalTax:          normalizeMoney(n.TotalTaxSet.ShopMoney.Amount),
		TotalShipping:     normalizeMoney(n.TotalShippingPriceSet.ShopMoney.Amount),
		Currency:          normalizeCurrency(n.TotalPriceSet.ShopMoney.CurrencyCode),
		FinancialStatus:   normalizeStatus(n.DisplayFinancialStatus),
		FulfillmentStatus: normalizeStatus(n.DisplayFulfillmentStatus),
		CreatedAt:         n.CreatedAt,
		UpdatedAt:         n.UpdatedAt,
	}

	if n.ShippingAddress != nil {
		o.ShippingAddress = &store.Address{
			Name:     n.ShippingAddress.Name,
			Address1: n.ShippingAddress.Address1,
			Address2: n.ShippingAddress.Address2,
			City:     n.ShippingAddress.City,
			Province: n.ShippingAddress.Province,
			Country:  n.ShippingAddress.Country,
			Zip:      n.ShippingAddress.Zip,
			Phone:    n.ShippingAddress.Phone,
		}
	}

	if n.Customer != nil {
		o.Customer = &store.Customer{
			ID:        StripGID(n.Customer.ID),
			Email:     n.Customer.Email,
			FirstName: n.Customer.FirstName,
			LastName:  n.Customer.LastName,
		}
	}

	if items == nil {
		for _, e := range n.LineItems.Edges {
			items = append(items, e.Node)
		}
	}
	o.LineItems = make([]store.LineItem, 0, len(items))
	for _, li := range items {
		o.LineItems = append(o.LineItems, store.LineItem{
			ID:       StripGID(li.ID),
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    normalizeMoney(li.OriginalUnitPriceSet.ShopMoney.Amount),
			SKU:      li.SKU,
		})
	}

	return o
}

// webhookOrder is the REST (snake_case) order schema Shopify posts to
// webhook endpoints.
type webhookOrder struct {
	ID                   json.Number `json:"id"`
	OrderNumber          int         `json:"order_number"`
	Email                string      `json:"email"`
	TotalPrice           string      `json:"total_price"`
	SubtotalPrice        string      `json:"subtotal_price"`
	TotalTax             string      `json:"total_tax"`
	Currency             string      `json:"currency"`
	FinancialStatus      string      `json:"financial_status"`
	FulfillmentStatus    string      `json:"fulfillment_status"`
	CreatedAt            string      `json:"created_at"`
	UpdatedAt            string      `json:"updated_at"`
	TotalShippingPriceSet struct {
		ShopMoney struct {
			Amount string `json:"amount"`
		} `json:"shop_money"`
	} `json:"total_shipping_price_set"`
	ShippingAddress *struct {
		Name     string `json:"name"`
		Address1 string `json:"address1"`
		Address2 string `json:"address2"`
		City     string `json:"city"`
		Province string `json:"province"`
		Country  string `json:"country"`
		Zip      string `json:"zip"`
		Phone    string `json:"phone"`
	} `json:"shipping_address"`
	LineItems []struct {
		ID       json.Number `json:"id"`
		Title    string      `json:"title"`
		Quantity int         `json:"quantity"`
		Price    string      `json:"price"`
		SKU      string      `json:"sku"`
	} `json:"line_items"`
	Customer *struct {
		ID        json.Number `json:"id"`
		Email     string      `json:"email"`
		FirstName string      `json:"first_name"`
		LastName  string      `json:"last_name"`
	} `json:"customer"`
}

// OrderFromWebhook normalizes a raw webhook payload into the stored shape.
func OrderFromWebhook(raw []byte) (store.Order, error) {
	var w webhookOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return store.Order{}, fmt.Errorf("unmarshal webhook order: %w", err)
	}
	if w.ID.String() == "" {
		return store.Order{}, fmt.Errorf("webhook order has no id")
	}

	o := store.Order{
		ID:                w.ID.String(),
		OrderNumber:       w.OrderNumber,
		Email:             w.Email,
		TotalPrice:        normalizeMoney(w.TotalPrice),
		SubtotalPrice:     normalizeMoney(w.SubtotalPrice),
		TotalTax:          normalizeMoney(w.TotalTax),
		TotalShipping:     normalizeMoney(w.TotalShippingPriceSet.ShopMoney.Amount),
		Currency:          normalizeCurrency(w.Currency),
		FinancialStatus:   normalizeStatus(w.FinancialStatus),
		FulfillmentStatus: normalizeStatus(w.FulfillmentStatus),
		CreatedAt:         normalizeTimestamp(w.CreatedAt),
		UpdatedAt:         normalizeTimestamp(w.UpdatedAt),
	}

	if w.ShippingAddress != nil {
		o.ShippingAddress = &store.Address{
			Name:     w.ShippingAddress.Name,
			Address1: w.ShippingAddress.Address1,
			Address2: w.ShippingAddress.Address2,
			City:     w.ShippingAddress.City,
			Province: w.ShippingAddress.Province,
			Country:  w.ShippingAddress.Country,
			Zip:      w.ShippingAddress.Zip,
			Phone:    w.ShippingAddress.Phone,
		}
	}

	if w.Customer != nil {
		o.Customer = &store.Customer{
			ID:        w.Customer.ID.String(),
			Email:     w.Customer.Email,
			FirstName: w.Customer.FirstName,
			LastName:  w.Customer.LastName,
		}
	}

	o.LineItems = make([]store.LineItem, 0, len(w.LineItems))
	for _, li := range w.LineItems {
		o.LineItems = append(o.LineItems, store.LineItem{
			ID:       li.ID.String(),
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    normalizeMoney(li.Price),
			SKU:      li.SKU,
		})
	}

	return o, nil
}
