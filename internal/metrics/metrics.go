package metrics

import (
	"context"
	"log"
	"sort"
	"time"

	"backend/internal/store"

	"github.com/shopspring/decimal"
)

// DailyMetric is one calendar day's aggregate over stored orders.
type DailyMetric struct {
	Date         string  `json:"date"`
	OrderCount   int     `json:"orderCount"`
	Revenue      float64 `json:"revenue"`
	ShippingCost float64 `json:"shippingCost"`
}

type Summary struct {
	TotalOrders       int     `json:"totalOrders"`
	TotalRevenue      float64 `json:"totalRevenue"`
	TotalShipping     float64 `json:"totalShipping"`
	AverageOrderValue float64 `json:"averageOrderValue"`
}

// OrderLister is the slice of the order store the aggregator reads from.
type OrderLister interface {
	OrdersSince(ctx context.Context, sinceISO string) ([]store.Order, error)
}

// Aggregator recomputes daily metrics from raw orders on every call; nothing
// is materialized, so cost grows with order volume in the window.
type Aggregator struct {
	orders  OrderLister
	nowFunc func() time.Time
}

func NewAggregator(orders OrderLister) *Aggregator {
	return &Aggregator{orders: orders, nowFunc: time.Now}
}

type dayBucket struct {
	count    int
	revenue  decimal.Decimal
	shipping decimal.Decimal
}

// Window aggregates the last `days` days of orders into ascending-date
// metrics plus summary totals. Orders with a missing or unparsable
// created_at are skipped.
func (a *Aggregator) Window(ctx context.Context, days int) ([]DailyMetric, Summary, error) {
	if days < 1 {
		days = 30
	}

	windowStart := a.nowFunc().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	orders, err := a.orders.OrdersSince(ctx, windowStart.Format(time.RFC3339))
	if err != nil {
		return nil, Summary{}, err
	}

	metrics, summary := Aggregate(orders)
	return metrics, summary, nil
}

// Aggregate groups orders by the UTC date portion of created_at.
func Aggregate(orders []store.Order) ([]DailyMetric, Summary) {
	buckets := map[string]*dayBucket{}

	totalRevenue := decimal.Zero
	totalShipping := decimal.Zero
	totalOrders := 0

	for _, o := range orders {
		t, err := time.Parse(time.RFC3339, o.CreatedAt)
		if err != nil {
			log.Printf("metrics: order %s skipped, bad created_at %q", o.ID, o.CreatedAt)
			continue
		}
		date := t.UTC().Format("2006-01-02")

		revenue, err := decimal.NewFromString(o.TotalPrice)
		if err != nil {
			revenue = decimal.Zero
		}
		shipping, err := decimal.NewFromString(o.TotalShipping)
		if err != nil {
			shipping = decimal.Zero
		}

		b := buckets[date]
		if b == nil {
			b = &dayBucket{revenue: decimal.Zero, shipping: decimal.Zero}
			buckets[date] = b
		}
		b.count++
		b.revenue = b.revenue.Add(revenue)
		b.shipping = b.shipping.Add(shipping)

		totalOrders++
		totalRevenue = totalRevenue.Add(revenue)
		totalShipping = totalShipping.Add(shipping)
	}

	dates := make([]string, 0, len(buckets))
	for d := range buckets {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	metrics := make([]DailyMetric, 0, len(dates))
	for _, d := range dates {
		b := buckets[d]
		metrics = append(metrics, DailyMetric{
			Date:         d,
			OrderCount:   b.count,
			Revenue:      b.revenue.InexactFloat64(),
			ShippingCost: b.shipping.InexactFloat64(),
		})
	}

	avg := decimal.Zero
	if totalOrders > 0 {
		avg = totalRevenue.Div(decimal.NewFromInt(int64(totalOrders)))
	}

	return metrics, Summary{
		TotalOrders:       totalOrders,
		TotalRevenue:      totalRevenue.InexactFloat64(),
		TotalShipping:     totalShipping.InexactFloat64(),
		AverageOrderValue: avg.InexactFloat64(),
	}
}
