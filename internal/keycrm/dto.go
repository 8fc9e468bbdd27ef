package keycrm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"crm-sla/internal/urgency"
)

// ID is a scalar the CRM sends either as a number or as a string.
type ID string

func (i *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*i = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*i = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*i = ID(n.String())
	return nil
}

// OrderResponse is the envelope of GET /order/{id}.
type OrderResponse struct {
	Data *OrderDTO `json:"data"`
	// Some deployments return the order without the data envelope.
	ID       ID           `json:"id"`
	Products []ProductDTO `json:"products"`
}

func (r OrderResponse) order() OrderDTO {
	if r.Data != nil {
		return *r.Data
	}
	return OrderDTO{ID: r.ID, Products: r.Products}
}

type OrderDTO struct {
	ID       ID           `json:"id"`
	Products []ProductDTO `json:"products"`
}

// ProductDTO is one order line.
type ProductDTO struct {
	Name      string    `json:"name"`
	SKU       string    `json:"sku"`
	OfferID   ID        `json:"offer_id"`
	ProductID ID        `json:"product_id"`
	Quantity  ID        `json:"quantity"`
	Qty       ID        `json:"qty"`
	Offer     *OfferDTO `json:"offer"`
}

type OfferDTO struct {
	ID        ID     `json:"id"`
	ProductID ID     `json:"product_id"`
	SKU       string `json:"sku"`
}

// MapItem flattens a product line, preferring the line's own fields and
// falling back to its offer. The offer ID prefers the offer.
func MapItem(p ProductDTO) urgency.Item {
	item := urgency.Item{
		Name:      p.Name,
		SKU:       p.SKU,
		OfferID:   string(p.OfferID),
		ProductID: string(p.ProductID),
		Quantity:  quantity(p.Quantity, p.Qty),
	}
	if p.Offer != nil {
		if p.Offer.ID != "" {
			item.OfferID = string(p.Offer.ID)
		}
		if item.ProductID == "" {
			item.ProductID = string(p.Offer.ProductID)
		}
		if item.SKU == "" {
			item.SKU = p.Offer.SKU
		}
	}
	return item
}

func MapItems(products []ProductDTO) []urgency.Item {
	items := make([]urgency.Item, 0, len(products))
	for _, p := range products {
		items = append(items, MapItem(p))
	}
	return items
}

func quantity(values ...ID) int {
	for _, v := range values {
		if v == "" {
			continue
		}
		if n, err := strconv.ParseFloat(string(v), 64); err == nil && n > 0 {
			return int(n)
		}
	}
	return 1
}
