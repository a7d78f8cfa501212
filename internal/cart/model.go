package cart

import "github.com/shopspring/decimal"

// Product is what the caller wants to put into the cart.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	ImageURL string
}

// Line is one product row of the cart. CartLineID is the server row id used by
// the mutation endpoints; ProductID is unique within a snapshot.
type Line struct {
	ProductID  int64           `json:"product_id"`
	CartLineID int64           `json:"cart_line_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	LineTotal  decimal.Decimal `json:"line_total"`
	ImageURL   string          `json:"image_url"`
}

// Totals are computed by the server. Estimated is set only when the server
// omitted them and the client summed line totals instead.
type Totals struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	Discount           decimal.Decimal `json:"discount"`
	PriceAfterDiscount decimal.Decimal `json:"price_after_discount"`
	TaxRate            decimal.Decimal `json:"tax_rate"`
	Tax                decimal.Decimal `json:"tax"`
	Total              decimal.Decimal `json:"total"`
	Estimated          bool            `json:"estimated,omitempty"`
}

// Snapshot is the client's copy of the server cart. Items and Totals always
// come from the same response.
type Snapshot struct {
	Items  []Line `json:"items"`
	Totals Totals `json:"totals"`
}

// EmptySnapshot has no lines and all-zero totals.
func EmptySnapshot() Snapshot {
	return Snapshot{Items: []Line{}}
}

// ItemCount is the sum of line quantities.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, l := range s.Items {
		n += l.Quantity
	}
	return n
}

func (s Snapshot) IsEmpty() bool { return len(s.Items) == 0 }

// Line returns the line holding productID.
func (s Snapshot) Line(productID int64) (Line, bool) {
	for _, l := range s.Items {
		if l.ProductID == productID {
			return l, true
		}
	}
	return Line{}, false
}

func (s Snapshot) clone() Snapshot {
	items := make([]Line, len(s.Items))
	copy(items, s.Items)
	return Snapshot{Items: items, Totals: s.Totals}
}

// PromoResult is returned by ApplyPromoCode whatever the outcome; Message is
// always meant to be shown.
type PromoResult struct {
	Success  bool
	Message  string
	Discount decimal.Decimal
}
