package loan

import "github.com/shopspring/decimal"

// Effect marks which way a factor pushed the decision.
type Effect string

const (
	EffectPositive Effect = "positive"
	EffectNegative Effect = "negative"
)

// Factor is one explainable contribution to a decision, ordered by
// weight in the Decision it belongs to.
type Factor struct {
	Name   string  `json:"name"`
	Effect Effect  `json:"effect"`
	Weight float64 `json:"weight"`
}

// Decision is the deterministic output of an underwriting pass.
// Rate and term are only set for approvals.
type Decision struct {
	Status       Status           `json:"status"`
	Confidence   float64          `json:"confidence"`
	Factors      []Factor         `json:"factors"`
	InterestRate *decimal.Decimal `json:"interestRate,omitempty"`
	TermMonths   int              `json:"termMonths,omitempty"`
}
