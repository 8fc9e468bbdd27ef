package urgency

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// MatchType names the line item field an urgent rule compares against.
type MatchType int

const (
	MatchSKU MatchType = iota + 1
	MatchOfferID
	MatchProductID
)

var matchTypeNames = map[MatchType]string{
	MatchSKU:       "sku",
	MatchOfferID:   "offer_id",
	MatchProductID: "product_id",
}

// ParseMatchType reads the wire name of a match type. Unknown names are rejected.
func ParseMatchType(s string) (MatchType, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for t, name := range matchTypeNames {
		if name == needle {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown match type %q", s)
}

func (t MatchType) Valid() bool {
	_, ok := matchTypeNames[t]
	return ok
}

func (t MatchType) String() string {
	if name, ok := matchTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MatchType(%d)", int(t))
}

func (t MatchType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid match type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *MatchType) UnmarshalText(b []byte) error {
	v, err := ParseMatchType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Item is the part of an order line the rules look at.
type Item struct {
	SKU       string `json:"sku,omitempty"`
	OfferID   string `json:"offer_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

// Field returns the item value a match type compares.
func (i Item) Field(t MatchType) string {
	switch t {
	case MatchSKU:
		return i.SKU
	case MatchOfferID:
		return i.OfferID
	case MatchProductID:
		return i.ProductID
	default:
		return ""
	}
}

// Rule marks orders containing a matching item as urgent.
type Rule struct {
	ID         int64     `json:"id" validate:"gt=0"`
	ProjectID  int64     `json:"project_id,omitempty"`
	Name       string    `json:"name"`
	MatchType  MatchType `json:"match_type" validate:"required"`
	MatchValue string    `json:"match_value" validate:"required"`
	Active     bool      `json:"is_active"`
}

// Matches reports whether the item satisfies the rule. Empty fields never match.
func (r Rule) Matches(item Item) bool {
	v := item.Field(r.MatchType)
	return v != "" && v == r.MatchValue
}

// Result is the outcome of rule-based classification.
type Result struct {
	Urgent   bool   `json:"urgent"`
	RuleName string `json:"rule_name,omitempty"`
}

// Classify evaluates active rules in ascending ID order against every item.
// The first rule with a matching item decides.
func Classify(items []Item, rules []Rule) Result {
	if len(items) == 0 || len(rules) == 0 {
		return Result{}
	}

	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b Rule) int { return cmp.Compare(a.ID, b.ID) })

	for _, r := range ordered {
		if !r.Active {
			continue
		}
		for _, item := range items {
			if r.Matches(item) {
				return Result{Urgent: true, RuleName: r.Name}
			}
		}
	}
	return Result{}
}
