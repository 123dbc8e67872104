package underwrite

import (
	"github.com/shopspring/decimal"

	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

// Component weights of the risk score. Credit history dominates when
// stated; an absent score contributes a neutral 0.5, it is not a
// penalty.
const (
	creditWeight     = 0.5
	ratioWeight      = 0.3
	employmentWeight = 0.2

	neutralComponent = 0.5
)

// RatioCutoffs bound the debt-service ratio (amount over annualized
// income) for one loan type. Above Reject the application fails
// regardless of credit; above Moderate the ratio counts against the
// applicant.
type RatioCutoffs struct {
	Moderate float64
	Reject   float64
}

// Policy holds every tunable the engine consults. Identical field sets
// under an identical policy always produce identical decisions.
type Policy struct {
	ApprovalThreshold float64
	RateFloor         decimal.Decimal
	RateCeiling       decimal.Decimal
	BaseRates         map[loan.Type]decimal.Decimal
	DefaultTerms      map[loan.Type]int
	Cutoffs           map[loan.Type]RatioCutoffs
}

// DefaultPolicy returns the shipped underwriting tunables. Secured,
// long-term products tolerate higher debt-service ratios.
func DefaultPolicy() Policy {
	return Policy{
		ApprovalThreshold: 0.60,
		RateFloor:         decimal.NewFromFloat(3.0),
		RateCeiling:       decimal.NewFromFloat(18.0),
		BaseRates: map[loan.Type]decimal.Decimal{
			loan.TypeMortgage: decimal.NewFromFloat(6.5),
			loan.TypeAuto:     decimal.NewFromFloat(7.5),
			loan.TypePersonal: decimal.NewFromFloat(11.0),
			loan.TypeBusiness: decimal.NewFromFloat(9.0),
		},
		DefaultTerms: map[loan.Type]int{
			loan.TypeMortgage: 360,
			loan.TypeAuto:     60,
			loan.TypePersonal: 36,
			loan.TypeBusiness: 180,
		},
		Cutoffs: map[loan.Type]RatioCutoffs{
			loan.TypeMortgage: {Moderate: 2.5, Reject: 4.0},
			loan.TypeAuto:     {Moderate: 0.75, Reject: 1.5},
			loan.TypePersonal: {Moderate: 0.5, Reject: 1.0},
			loan.TypeBusiness: {Moderate: 1.5, Reject: 3.0},
		},
	}
}

var employmentComponents = map[loan.Employment]float64{
	loan.EmploymentFullTime:     1.0,
	loan.EmploymentPartTime:     0.6,
	loan.EmploymentRetired:      0.5,
	loan.EmploymentSelfEmployed: 0.4,
	loan.EmploymentUnemployed:   0.0,
}

// Engine is a pure decision function over a field set.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Decide evaluates a draft. Missing required fields short-circuit to
// needs-info; a complete set always resolves to approved or rejected,
// never back to needs-info.
func (e *Engine) Decide(fields loan.FieldSet) loan.Decision {
	if missing := fields.MissingRequired(); len(missing) > 0 {
		factors := make([]loan.Factor, 0, len(missing))
		for _, field := range missing {
			factors = append(factors, loan.Factor{
				Name:   string(field),
				Effect: loan.EffectNegative,
				Weight: 1,
			})
		}
		return loan.Decision{Status: loan.StatusNeedsInfo, Confidence: 1, Factors: factors}
	}

	cutoffs := e.policy.Cutoffs[fields.LoanType]
	annualIncome := fields.MonthlyIncome.Mul(decimal.NewFromInt(12))
	ratio, _ := fields.Amount.Div(annualIncome).Float64()

	ratioComponent := clamp01(1 - ratio/cutoffs.Reject)
	ratioEffect := loan.EffectPositive
	if ratio > cutoffs.Moderate {
		ratioEffect = loan.EffectNegative
	}

	creditComponent := neutralComponent
	var factors []loan.Factor
	if fields.CreditScore != nil {
		creditComponent = clamp01(float64(*fields.CreditScore-300) / 550)
		effect := loan.EffectPositive
		if creditComponent < neutralComponent {
			effect = loan.EffectNegative
		}
		factors = append(factors, loan.Factor{Name: "creditScore", Effect: effect, Weight: creditWeight})
	}

	factors = append(factors, loan.Factor{Name: "debtServiceRatio", Effect: ratioEffect, Weight: ratioWeight})

	employmentComponent := neutralComponent
	if fields.EmploymentStatus != "" {
		employmentComponent = employmentComponents[fields.EmploymentStatus]
		effect := loan.EffectPositive
		if employmentComponent < neutralComponent {
			effect = loan.EffectNegative
		}
		factors = append(factors, loan.Factor{Name: "employmentStatus", Effect: effect, Weight: employmentWeight})
	}

	risk := creditWeight*creditComponent + ratioWeight*ratioComponent + employmentWeight*employmentComponent

	// An excessive ratio rejects outright, credit score notwithstanding.
	if ratio > cutoffs.Reject {
		return loan.Decision{
			Status:     loan.StatusRejected,
			Confidence: clamp01(0.6 + (ratio-cutoffs.Reject)/cutoffs.Reject),
			Factors:    prependRatioFactor(factors),
		}
	}

	if risk >= e.policy.ApprovalThreshold {
		rate := e.interestRate(fields.LoanType, risk)
		return loan.Decision{
			Status:       loan.StatusApproved,
			Confidence:   clamp01(0.5 + (risk-e.policy.ApprovalThreshold)*2),
			Factors:      factors,
			InterestRate: &rate,
			TermMonths:   e.term(fields),
		}
	}

	// Fully specified but borderline resolves to rejected, with the
	// contributing factors explaining why.
	return loan.Decision{
		Status:     loan.StatusRejected,
		Confidence: clamp01(0.5 + (e.policy.ApprovalThreshold-risk)*2),
		Factors:    factors,
	}
}

// interestRate applies the risk-tier offset to the product base rate and
// clamps into the policy band.
func (e *Engine) interestRate(loanType loan.Type, risk float64) decimal.Decimal {
	rate := e.policy.BaseRates[loanType]

	switch {
	case risk >= 0.85:
		rate = rate.Sub(decimal.NewFromFloat(1.0))
	case risk >= 0.70:
		rate = rate.Sub(decimal.NewFromFloat(0.5))
	case risk >= 0.60:
		// base rate unchanged
	case risk >= 0.50:
		rate = rate.Add(decimal.NewFromFloat(1.5))
	default:
		rate = rate.Add(decimal.NewFromFloat(3.0))
	}

	if rate.LessThan(e.policy.RateFloor) {
		return e.policy.RateFloor
	}
	if rate.GreaterThan(e.policy.RateCeiling) {
		return e.policy.RateCeiling
	}
	return rate
}

// term prefers a validator-accepted user-stated term over the product
// default.
func (e *Engine) term(fields loan.FieldSet) int {
	if fields.TermMonths != nil {
		return *fields.TermMonths
	}
	return e.policy.DefaultTerms[fields.LoanType]
}

// prependRatioFactor floats the ratio factor to the head of the list so
// a ratio-driven rejection leads with its cause.
func prependRatioFactor(factors []loan.Factor) []loan.Factor {
	ordered := make([]loan.Factor, 0, len(factors))
	for _, f := range factors {
		if f.Name == "debtServiceRatio" {
			ordered = append([]loan.Factor{f}, ordered...)
			continue
		}
		ordered = append(ordered, f)
	}
	return ordered
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
