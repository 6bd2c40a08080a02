package model

import "strings"

// CommandParameters groups user intent (Primary), execution tuning (Optional)
// and values computed by pricing/routing (Derived).
type CommandParameters struct {
	Primary  PrimaryParameters  `json:"primary"`
	Optional OptionalParameters `json:"optional"`
	Derived  DerivedParameters  `json:"derived"`
}

type PrimaryParameters struct {
	Amount    string   `json:"amount,omitempty"`
	Token     string   `json:"token,omitempty"`
	FromToken string   `json:"from_token,omitempty"`
	ToToken   string   `json:"to_token,omitempty"`
	Protocol  string   `json:"protocol,omitempty"`
	Leverage  *float64 `json:"leverage,omitempty"`
	Slippage  *float64 `json:"slippage,omitempty"`
	Deadline  *int64   `json:"deadline,omitempty"`
}

type OptionalParameters struct {
	MaxSlippage *float64 `json:"max_slippage,omitempty"`
	MinOutput   string   `json:"min_output,omitempty"`
	GasLimit    *uint64  `json:"gas_limit,omitempty"`
	GasPrice    string   `json:"gas_price,omitempty"`
	Recipient   string   `json:"recipient,omitempty"`
	Referrer    string   `json:"referrer,omitempty"`
	Route       []string `json:"route,omitempty"`
}

// DerivedParameters is the closed set of values a pricing/routing quote may
// attach. Users never supply these.
type DerivedParameters struct {
	OutputAmount      string      `json:"output_amount,omitempty"`
	PriceImpact       *float64    `json:"price_impact,omitempty"`
	Fees              *FeeSummary `json:"fees,omitempty"`
	RouteSteps        []RouteStep `json:"route_steps,omitempty"`
	HealthFactorAfter *float64    `json:"health_factor_after,omitempty"`
	LiquidationPrice  string      `json:"liquidation_price,omitempty"`
	TotalCost         string      `json:"total_cost,omitempty"`
}

type FeeSummary struct {
	Protocol string `json:"protocol,omitempty"`
	Gas      string `json:"gas,omitempty"`
	Total    string `json:"total,omitempty"`
}

type RouteStep struct {
	Protocol  string  `json:"protocol"`
	FromToken string  `json:"from_token"`
	ToToken   string  `json:"to_token"`
	Share     float64 `json:"share"`
}

func Float(v float64) *float64 { return &v }

func Int64(v int64) *int64 { return &v }

func Uint64(v uint64) *uint64 { return &v }

// Merge returns p with every field present in over taking precedence.
// Sub-records are merged independently; absent fields keep p's values.
func (p CommandParameters) Merge(over CommandParameters) CommandParameters {
	return CommandParameters{
		Primary:  p.Primary.merge(over.Primary),
		Optional: p.Optional.merge(over.Optional),
		Derived:  p.Derived.merge(over.Derived),
	}
}

func (p PrimaryParameters) merge(o PrimaryParameters) PrimaryParameters {
	p.Amount = pickString(p.Amount, o.Amount)
	p.Token = pickString(p.Token, o.Token)
	p.FromToken = pickString(p.FromToken, o.FromToken)
	p.ToToken = pickString(p.ToToken, o.ToToken)
	p.Protocol = pickString(p.Protocol, o.Protocol)
	if o.Leverage != nil {
		p.Leverage = Float(*o.Leverage)
	}
	if o.Slippage != nil {
		p.Slippage = Float(*o.Slippage)
	}
	if o.Deadline != nil {
		p.Deadline = Int64(*o.Deadline)
	}
	return p
}

func (p OptionalParameters) merge(o OptionalParameters) OptionalParameters {
	if o.MaxSlippage != nil {
		p.MaxSlippage = Float(*o.MaxSlippage)
	}
	p.MinOutput = pickString(p.MinOutput, o.MinOutput)
	if o.GasLimit != nil {
		p.GasLimit = Uint64(*o.GasLimit)
	}
	p.GasPrice = pickString(p.GasPrice, o.GasPrice)
	p.Recipient = pickString(p.Recipient, o.Recipient)
	p.Referrer = pickString(p.Referrer, o.Referrer)
	if len(o.Route) > 0 {
		p.Route = append([]string(nil), o.Route...)
	}
	return p
}

func (p DerivedParameters) merge(o DerivedParameters) DerivedParameters {
	p.OutputAmount = pickString(p.OutputAmount, o.OutputAmount)
	if o.PriceImpact != nil {
		p.PriceImpact = Float(*o.PriceImpact)
	}
	if o.Fees != nil {
		fees := *o.Fees
		p.Fees = &fees
	}
	if len(o.RouteSteps) > 0 {
		p.RouteSteps = append([]RouteStep(nil), o.RouteSteps...)
	}
	if o.HealthFactorAfter != nil {
		p.HealthFactorAfter = Float(*o.HealthFactorAfter)
	}
	p.LiquidationPrice = pickString(p.LiquidationPrice, o.LiquidationPrice)
	p.TotalCost = pickString(p.TotalCost, o.TotalCost)
	return p
}

func pickString(orig, over string) string {
	if over != "" {
		return over
	}
	return orig
}

// Field reads a parameter by wire name, checking primary, then optional,
// then derived. The bool is false when the field is unknown or absent.
func (p CommandParameters) Field(name string) (any, bool) {
	if v, ok := p.Primary.field(name); ok {
		return v, true
	}
	if v, ok := p.Optional.field(name); ok {
		return v, true
	}
	return p.Derived.field(name)
}

func (p PrimaryParameters) field(name string) (any, bool) {
	switch name {
	case "amount":
		return p.Amount, p.Amount != ""
	case "token":
		return p.Token, p.Token != ""
	case "from_token":
		return p.FromToken, p.FromToken != ""
	case "to_token":
		return p.ToToken, p.ToToken != ""
	case "protocol":
		return p.Protocol, p.Protocol != ""
	case "leverage":
		return derefFloat(p.Leverage)
	case "slippage":
		return derefFloat(p.Slippage)
	case "deadline":
		if p.Deadline == nil {
			return nil, false
		}
		return *p.Deadline, true
	}
	return nil, false
}

func (p OptionalParameters) field(name string) (any, bool) {
	switch name {
	case "max_slippage":
		return derefFloat(p.MaxSlippage)
	case "min_output":
		return p.MinOutput, p.MinOutput != ""
	case "gas_limit":
		if p.GasLimit == nil {
			return nil, false
		}
		return *p.GasLimit, true
	case "gas_price":
		return p.GasPrice, p.GasPrice != ""
	case "recipient":
		return p.Recipient, p.Recipient != ""
	case "referrer":
		return p.Referrer, p.Referrer != ""
	case "route":
		return p.Route, len(p.Route) > 0
	}
	return nil, false
}

func (p DerivedParameters) field(name string) (any, bool) {
	switch name {
	case "output_amount":
		return p.OutputAmount, p.OutputAmount != ""
	case "price_impact":
		return derefFloat(p.PriceImpact)
	case "health_factor_after":
		return derefFloat(p.HealthFactorAfter)
	case "liquidation_price":
		return p.LiquidationPrice, p.LiquidationPrice != ""
	case "total_cost":
		return p.TotalCost, p.TotalCost != ""
	}
	return nil, false
}

// SetPrimary writes a string-valued primary field by wire name.
func (p *CommandParameters) SetPrimary(name, value string) bool {
	switch name {
	case "amount":
		p.Primary.Amount = value
	case "token":
		p.Primary.Token = value
	case "from_token":
		p.Primary.FromToken = value
	case "to_token":
		p.Primary.ToToken = value
	case "protocol":
		p.Primary.Protocol = value
	default:
		return false
	}
	return true
}

func derefFloat(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func normalizeKey(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.NewReplacer("-", "_", " ", "_").Replace(v)
}
