package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const placeholderImage = "/placeholder-image.jpg"

// showResponse is the body of GET /cart/show.
type showResponse struct {
	Items  *[]wireLine `json:"items"`
	Totals *wireTotals `json:"totals"`
}

type wireLine struct {
	ID        *int64           `json:"id"`
	ProductID *int64           `json:"product_id"`
	Quantity  *int             `json:"quantity"`
	Price     *decimal.Decimal `json:"price"`
	Total     *decimal.Decimal `json:"total"`
	Name      string           `json:"name"`
	ImageURL  string           `json:"image_url"`
	Product   *wireProduct     `json:"product"`
}

type wireProduct struct {
	Name   string `json:"name"`
	Images []struct {
		ImageURL string `json:"image_url"`
	} `json:"images"`
}

type wireTotals struct {
	Subtotal           decimal.Decimal `json:"subtotal"`
	Discount           decimal.Decimal `json:"discount"`
	PriceAfterDiscount decimal.Decimal `json:"price_after_discount"`
	TaxRate            decimal.Decimal `json:"tax_rate"`
	Tax                decimal.Decimal `json:"tax"`
	Total              decimal.Decimal `json:"total"`
}

func (r showResponse) Validate() error {
	if r.Items == nil {
		return errors.New("cart response has no items array")
	}
	seen := make(map[int64]bool, len(*r.Items))
	for i, l := range *r.Items {
		switch {
		case l.ID == nil:
			return fmt.Errorf("items[%d]: id missing", i)
		case l.ProductID == nil:
			return fmt.Errorf("items[%d]: product_id missing", i)
		case l.Quantity == nil:
			return fmt.Errorf("items[%d]: quantity missing", i)
		case *l.Quantity < 1:
			return fmt.Errorf("items[%d]: quantity %d below 1", i, *l.Quantity)
		case l.Price == nil:
			return fmt.Errorf("items[%d]: price missing", i)
		case seen[*l.ProductID]:
			return fmt.Errorf("items[%d]: duplicate product_id %d", i, *l.ProductID)
		}
		seen[*l.ProductID] = true
	}
	return nil
}

// snapshot converts the validated response. Relative image paths are
// resolved against assetBase.
func (r showResponse) snapshot(assetBase string) Snapshot {
	snap := Snapshot{Items: make([]Line, 0, len(*r.Items))}
	subtotal := decimal.Zero
	for _, l := range *r.Items {
		line := Line{
			ProductID:  *l.ProductID,
			CartLineID: *l.ID,
			Name:       l.Name,
			UnitPrice:  *l.Price,
			Quantity:   *l.Quantity,
			ImageURL:   l.ImageURL,
		}
		if l.Total != nil {
			line.LineTotal = *l.Total
		} else {
			line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		}
		if l.Product != nil {
			if line.Name == "" {
				line.Name = l.Product.Name
			}
			if line.ImageURL == "" && len(l.Product.Images) > 0 {
				line.ImageURL = l.Product.Images[0].ImageURL
			}
		}
		line.ImageURL = resolveImageURL(assetBase, line.ImageURL)
		subtotal = subtotal.Add(line.LineTotal)
		snap.Items = append(snap.Items, line)
	}

	if r.Totals != nil {
		snap.Totals = Totals{
			Subtotal:           r.Totals.Subtotal,
			Discount:           r.Totals.Discount,
			PriceAfterDiscount: r.Totals.PriceAfterDiscount,
			TaxRate:            r.Totals.TaxRate,
			Tax:                r.Totals.Tax,
			Total:              r.Totals.Total,
		}
	} else {
		snap.Totals = Totals{
			Subtotal:           subtotal,
			PriceAfterDiscount: subtotal,
			Total:              subtotal,
			Estimated:          true,
		}
	}
	return snap
}

func resolveImageURL(assetBase, u string) string {
	switch {
	case u == "":
		return placeholderImage
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		return u
	case assetBase == "":
		return u
	default:
		return strings.TrimRight(assetBase, "/") + "/" + strings.TrimLeft(u, "/")
	}
}

type addRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type addResponse struct {
	Message    string      `json:"message"`
	SessionID  string      `json:"session_id"`
	CartTotals *wireTotals `json:"cart_totals"`
}

type updateRequest struct {
	CartItemID int64 `json:"cart_item_id"`
	Quantity   int   `json:"quantity"`
}

type promoRequest struct {
	Code string `json:"code"`
}

type promoResponse struct {
	Message  string           `json:"message"`
	Discount *decimal.Decimal `json:"discount"`
}

func (r promoResponse) Validate() error {
	if r.Discount == nil {
		return errors.New("promo response has no discount")
	}
	return nil
}

type guestCreateResponse struct {
	SessionID string `json:"session_id"`
}

func (r guestCreateResponse) Validate() error {
	if r.SessionID == "" {
		return errors.New("guest cart response has no session_id")
	}
	return nil
}

type messageResponse struct {
	Message string `json:"message"`
}
