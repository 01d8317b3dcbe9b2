package sync

import (
	"fmt"

	"backend/internal/store"
)

// Change is one significant-field difference between a stored order and an
// incoming one. Classification feeds sync statistics only; every order is
// written regardless.
type Change struct {
	Field string
	Old   string
	New   string
}

func diffString(changes []Change, field, oldV, newV string) []Change {
	if oldV != newV {
		changes = append(changes, Change{Field: field, Old: oldV, New: newV})
	}
	return changes
}

func diffAddress(changes []Change, oldA, newA *store.Address) []Change {
	if oldA == nil && newA == nil {
		return changes
	}
	var o, n store.Address
	if oldA != nil {
		o = *oldA
	}
	if newA != nil {
		n = *newA
	}
	changes = diffString(changes, "shipping_address.name", o.Name, n.Name)
	changes = diffString(changes, "shipping_address.address1", o.Address1, n.Address1)
	changes = diffString(changes, "shipping_address.address2", o.Address2, n.Address2)
	changes = diffString(changes, "shipping_address.city", o.City, n.City)
	changes = diffString(changes, "shipping_address.province", o.Province, n.Province)
	changes = diffString(changes, "shipping_address.country", o.Country, n.Country)
	changes = diffString(changes, "shipping_address.zip", o.Zip, n.Zip)
	changes = diffString(changes, "shipping_address.phone", o.Phone, n.Phone)
	return changes
}

func diffCustomer(changes []Change, oldC, newC *store.Customer) []Change {
	if oldC == nil && newC == nil {
		return changes
	}
	var o, n store.Customer
	if oldC != nil {
		o = *oldC
	}
	if newC != nil {
		n = *newC
	}
	changes = diffString(changes, "customer.id", o.ID, n.ID)
	changes = diffString(changes, "customer.email", o.Email, n.Email)
	changes = diffString(changes, "customer.firstName", o.FirstName, n.FirstName)
	changes = diffString(changes, "customer.lastName", o.LastName, n.LastName)
	return changes
}

func diffLineItems(changes []Change, oldLI, newLI []store.LineItem) []Change {
	if len(oldLI) != len(newLI) {
		return append(changes, Change{
			Field: "line_items.length",
			Old:   fmt.Sprintf("%d", len(oldLI)),
			New:   fmt.Sprintf("%d", len(newLI)),
		})
	}
	for i := range newLI {
		prefix := fmt.Sprintf("line_items[%d]", i)
		changes = diffString(changes, prefix+".id", oldLI[i].ID, newLI[i].ID)
		changes = diffString(changes, prefix+".title", oldLI[i].Title, newLI[i].Title)
		changes = diffString(changes, prefix+".quantity", fmt.Sprintf("%d", oldLI[i].Quantity), fmt.Sprintf("%d", newLI[i].Quantity))
		changes = diffString(changes, prefix+".price", oldLI[i].Price, newLI[i].Price)
		changes = diffString(changes, prefix+".sku", oldLI[i].SKU, newLI[i].SKU)
	}
	return changes
}

// Compare returns the significant-field differences between a stored order
// and an incoming version, independent of field ordering.
func Compare(stored, incoming store.Order) []Change {
	var changes []Change
	changes = diffString(changes, "total_price", stored.TotalPrice, incoming.TotalPrice)
	changes = diffString(changes, "subtotal_price", stored.SubtotalPrice, incoming.SubtotalPrice)
	changes = diffString(changes, "total_tax", stored.TotalTax, incoming.TotalTax)
	changes = diffString(changes, "total_shipping", stored.TotalShipping, incoming.TotalShipping)
	changes = diffString(changes, "financial_status", stored.FinancialStatus, incoming.FinancialStatus)
	changes = diffString(changes, "fulfillment_status", stored.FulfillmentStatus, incoming.FulfillmentStatus)
	changes = diffString(changes, "email", stored.Email, incoming.Email)
	changes = diffAddress(changes, stored.ShippingAddress, incoming.ShippingAddress)
	changes = diffLineItems(changes, stored.LineItems, incoming.LineItems)
	changes = diffCustomer(changes, stored.Customer, incoming.Customer)
	return changes
}
