package store

// Sync bookkeeping values for Order.SyncStatus.
const (
	SyncStatusPending = "pending"
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// FulfillmentFulfilled is the terminal fulfillment status. Anything else
// (including absent) counts as unfulfilled.
const FulfillmentFulfilled = "fulfilled"

type Address struct {
	Name     string `dynamodbav:"Name,omitempty" json:"name,omitempty"`
	Address1 string `dynamodbav:"Address1,omitempty" json:"address1,omitempty"`
	Address2 string `dynamodbav:"Address2,omitempty" json:"address2,omitempty"`
	City     string `dynamodbav:"City,omitempty" json:"city,omitempty"`
	Province string `dynamodbav:"Province,omitempty" json:"province,omitempty"`
	Country  string `dynamodbav:"Country,omitempty" json:"country,omitempty"`
	Zip      string `dynamodbav:"Zip,omitempty" json:"zip,omitempty"`
	Phone    string `dynamodbav:"Phone,omitempty" json:"phone,omitempty"`
}

type LineItem struct {
	ID       string `dynamodbav:"ID" json:"id"`
	Title    string `dynamodbav:"Title" json:"title"`
	Quantity int    `dynamodbav:"Quantity" json:"quantity"`
	Price    string `dynamodbav:"Price" json:"price"`
	SKU      string `dynamodbav:"SKU,omitempty" json:"sku,omitempty"`
}

type Customer struct {
	ID        string `dynamodbav:"ID" json:"id"`
	Email     string `dynamodbav:"Email,omitempty" json:"email,omitempty"`
	FirstName string `dynamodbav:"FirstName,omitempty" json:"firstName,omitempty"`
	LastName  string `dynamodbav:"LastName,omitempty" json:"lastName,omitempty"`
}

// Order is the stored order record. Monetary fields are decimal strings as
// Shopify sends them; timestamps are RFC3339 strings and double as sort keys.
type Order struct {
	PK     string `dynamodbav:"PK" json:"-"`
	SK     string `dynamodbav:"SK" json:"-"`
	GSI1PK string `dynamodbav:"GSI1PK" json:"-"`
	GSI1SK string `dynamodbav:"GSI1SK" json:"-"`

	ID                string    `dynamodbav:"OrderID" json:"id"`
	OrderNumber       int       `dynamodbav:"OrderNumber" json:"order_number"`
	Email             string    `dynamodbav:"Email,omitempty" json:"email,omitempty"`
	TotalPrice        string    `dynamodbav:"TotalPrice" json:"total_price"`
	SubtotalPrice     string    `dynamodbav:"SubtotalPrice" json:"subtotal_price"`
	TotalTax          string    `dynamodbav:"TotalTax" json:"total_tax"`
	TotalShipping     string    `dynamodbav:"TotalShipping" json:"total_shipping"`
	Currency          string    `dynamodbav:"Currency" json:"currency"`
	FinancialStatus   string    `dynamodbav:"FinancialStatus,omitempty" json:"financial_status,omitempty"`
	FulfillmentStatus string    `dynamodbav:"FulfillmentStatus,omitempty" json:"fulfillment_status,omitempty"`
	CreatedAt         string    `dynamodbav:"CreatedAt" json:"created_at"`
	UpdatedAt         string    `dynamodbav:"UpdatedAt" json:"updated_at"`
	ShippingAddress   *Address  `dynamodbav:"ShippingAddress,omitempty" json:"shipping_address,omitempty"`
	LineItems         []LineItem `dynamodbav:"LineItems" json:"line_items"`
	Customer          *Customer `dynamodbav:"Customer,omitempty" json:"customer,omitempty"`

	SyncStatus string `dynamodbav:"SyncStatus" json:"syncStatus"`
	SyncError  string `dynamodbav:"SyncError,omitempty" json:"syncError,omitempty"`
	SyncedAt   string `dynamodbav:"SyncedAt,omitempty" json:"syncedAt,omitempty"`
}

// Serialize returns the order as exposed by the read API, with table
// bookkeeping cleared. The json tags already hide the keys; clearing them
// keeps copies passed around internally from leaking key material.
func (o Order) Serialize() Order {
	o.PK = ""
	o.SK = ""
	o.GSI1PK = ""
	o.GSI1SK = ""
	return o
}
