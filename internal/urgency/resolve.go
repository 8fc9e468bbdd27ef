package urgency

// Source names the step of the resolution chain that decided an order's urgency.
type Source string

const (
	SourceOverride Source = "override"
	SourceRules    Source = "rules"
	SourceCached   Source = "cached"
	SourceDefault  Source = "default"
)

// Input is everything known about an order's urgency at read time.
type Input struct {
	// Override is the admin's explicit decision, if any.
	Override *bool
	// Items are the order's line items; only used when ItemsFetched is true.
	Items        []Item
	ItemsFetched bool
	Rules        []Rule
	// Cached is the decision stored on the order snapshot, if any.
	Cached *Result
}

// Decision is a resolved urgency together with where it came from.
type Decision struct {
	Result
	Source Source `json:"source"`
}

// Resolve walks the chain override, rules, cached, default and stops at the
// first step that can decide.
func Resolve(in Input) Decision {
	if in.Override != nil {
		d := Decision{Source: SourceOverride}
		d.Urgent = *in.Override
		if d.Urgent {
			d.RuleName = "manual"
		}
		return d
	}
	if in.ItemsFetched {
		return Decision{Result: Classify(in.Items, in.Rules), Source: SourceRules}
	}
	if in.Cached != nil {
		return Decision{Result: *in.Cached, Source: SourceCached}
	}
	return Decision{Source: SourceDefault}
}
