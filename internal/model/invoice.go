package model

import "strings"

// Address is a physical location on a transport order.
type Address struct {
	Name   string `json:"name,omitempty"`
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// IsZero reports whether no address component is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String renders the address on a single line.
func (a Address) String() string {
	var parts []string
	for _, p := range []string{a.Name, a.Street, a.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	tail := strings.TrimSpace(a.State + " " + a.Zip)
	if tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

// Invoice is the structured content extracted from one auction invoice.
// Only the first vehicle of a multi-vehicle invoice is represented.
type Invoice struct {
	Source      Source            `json:"source"`
	VIN         string            `json:"vin"`
	Year        string            `json:"year,omitempty"`
	Make        string            `json:"make,omitempty"`
	Model       string            `json:"model,omitempty"`
	LotNumber   string            `json:"lot_number,omitempty"`
	BuyerNumber string            `json:"buyer_number,omitempty"`
	SaleDate    string            `json:"sale_date,omitempty"`
	TotalAmount string            `json:"total_amount,omitempty"`
	Pickup      Address           `json:"pickup"`
	Fields      map[string]string `json:"fields"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// AnchorFields are the fields used as a coarse completeness signal.
var AnchorFields = []string{"vin", "lot_number", "pickup_city", "pickup_state", "pickup_name"}

// AnchorCompleteness returns the fraction of anchor fields that are populated.
func (inv *Invoice) AnchorCompleteness() float64 {
	if inv == nil {
		return 0
	}
	values := map[string]string{
		"vin":          inv.VIN,
		"lot_number":   inv.LotNumber,
		"pickup_city":  inv.Pickup.City,
		"pickup_state": inv.Pickup.State,
		"pickup_name":  inv.Pickup.Name,
	}
	found := 0
	for _, k := range AnchorFields {
		if strings.TrimSpace(values[k]) != "" {
			found++
		}
	}
	return float64(found) / float64(len(AnchorFields))
}

// TransportOrder is the record posted downstream for one vehicle move.
// Delivery always comes from configuration.
type TransportOrder struct {
	RunID       int64   `json:"run_id"`
	Source      Source  `json:"source"`
	VIN         string  `json:"vin"`
	Year        string  `json:"year,omitempty"`
	Make        string  `json:"make,omitempty"`
	Model       string  `json:"model,omitempty"`
	LotNumber   string  `json:"lot_number,omitempty"`
	BuyerNumber string  `json:"buyer_number,omitempty"`
	Pickup      Address `json:"pickup"`
	Delivery    Address `json:"delivery"`
}
