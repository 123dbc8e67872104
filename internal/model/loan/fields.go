package loan

import "github.com/shopspring/decimal"

// Field names accepted by the schema. These are the only keys the
// extractor, the model hint and the HTTP surface may use.
type Field string

const (
	FieldApplicantName    Field = "applicantName"
	FieldAmount           Field = "amount"
	FieldLoanType         Field = "loanType"
	FieldCreditScore      Field = "creditScore"
	FieldMonthlyIncome    Field = "monthlyIncome"
	FieldEmploymentStatus Field = "employmentStatus"
	FieldPurpose          Field = "purpose"
	FieldTermMonths       Field = "termMonths"
)

// Type enumerates the supported loan products.
type Type string

const (
	TypeMortgage Type = "mortgage"
	TypeAuto     Type = "auto"
	TypePersonal Type = "personal"
	TypeBusiness Type = "business"
)

// Employment enumerates the accepted employment statuses.
type Employment string

const (
	EmploymentFullTime     Employment = "full-time"
	EmploymentPartTime     Employment = "part-time"
	EmploymentSelfEmployed Employment = "self-employed"
	EmploymentRetired      Employment = "retired"
	EmploymentUnemployed   Employment = "unemployed"
)

// Status tracks where a draft sits in the underwriting lifecycle.
// Transitions only move forward, except needs-info reopening to pending
// when a missing field arrives, and any field change reopening a
// terminal approved/rejected snapshot.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusNeedsInfo Status = "needs-info"
)

// TermMenu is the fixed set of terms a user may request explicitly.
var TermMenu = []int{12, 36, 60, 180, 360}

// FieldSet accumulates loan-application data over a conversation.
// Pointer fields distinguish "not yet stated" from zero values.
type FieldSet struct {
	ApplicantName    string           `json:"applicantName,omitempty"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	LoanType         Type             `json:"loanType,omitempty"`
	CreditScore      *int             `json:"creditScore,omitempty"`
	MonthlyIncome    *decimal.Decimal `json:"monthlyIncome,omitempty"`
	EmploymentStatus Employment       `json:"employmentStatus,omitempty"`
	Purpose          string           `json:"purpose,omitempty"`
	TermMonths       *int             `json:"termMonths,omitempty"`

	InterestRate *decimal.Decimal `json:"interestRate,omitempty"`
	Status       Status           `json:"status"`
}

// NewFieldSet returns an empty draft in the pending state.
func NewFieldSet() FieldSet {
	return FieldSet{Status: StatusPending}
}

// MissingRequired lists the required fields the underwriting gate still
// needs, in schema order.
func (f FieldSet) MissingRequired() []Field {
	var missing []Field
	if f.Amount == nil {
		missing = append(missing, FieldAmount)
	}
	if f.LoanType == "" {
		missing = append(missing, FieldLoanType)
	}
	if f.MonthlyIncome == nil {
		missing = append(missing, FieldMonthlyIncome)
	}
	return missing
}

// Apply stores a validator-normalized value. It reports whether the
// stored value actually changed; a real change on a decided draft
// reopens evaluation to pending.
func (f *FieldSet) Apply(field Field, normalized string) (bool, error) {
	changed := false

	switch field {
	case FieldApplicantName:
		changed = f.ApplicantName != normalized
		f.ApplicantName = normalized
	case FieldAmount:
		val, err := decimal.NewFromString(normalized)
		if err != nil {
			return false, &ValidationError{Field: field, Reason: ReasonNotANumber}
		}
		changed = f.Amount == nil || !f.Amount.Equal(val)
		f.Amount = &val
	case FieldMonthlyIncome:
		val, err := decimal.NewFromString(normalized)
		if err != nil {
			return false, &ValidationError{Field: field, Reason: ReasonNotANumber}
		}
		changed = f.MonthlyIncome == nil || !f.MonthlyIncome.Equal(val)
		f.MonthlyIncome = &val
	case FieldLoanType:
		changed = f.LoanType != Type(normalized)
		f.LoanType = Type(normalized)
	case FieldEmploymentStatus:
		changed = f.EmploymentStatus != Employment(normalized)
		f.EmploymentStatus = Employment(normalized)
	case FieldCreditScore:
		val, err := parseInt(normalized)
		if err != nil {
			return false, &ValidationError{Field: field, Reason: ReasonNotAnInteger}
		}
		changed = f.CreditScore == nil || *f.CreditScore != val
		f.CreditScore = &val
	case FieldTermMonths:
		val, err := parseInt(normalized)
		if err != nil {
			return false, &ValidationError{Field: field, Reason: ReasonNotAnInteger}
		}
		changed = f.TermMonths == nil || *f.TermMonths != val
		f.TermMonths = &val
	case FieldPurpose:
		changed = f.Purpose != normalized
		f.Purpose = normalized
	default:
		return false, ErrUnknownField
	}

	if changed && (f.Status == StatusApproved || f.Status == StatusRejected || f.Status == StatusNeedsInfo) {
		f.Status = StatusPending
		f.InterestRate = nil
	}
	return changed, nil
}

// ApplyDecision records the outcome of an underwriting pass on the
// draft. TermMonths is left alone: it holds only user-stated terms, so
// a later re-evaluation under a different loan type falls back to that
// type's default instead of freezing the previously decided term.
func (f *FieldSet) ApplyDecision(d Decision) {
	f.Status = d.Status
	if d.InterestRate != nil {
		rate := *d.InterestRate
		f.InterestRate = &rate
	}
}

// Snapshot flattens the stated fields into a map for prompts and
// API payloads, omitting anything not yet collected.
func (f FieldSet) Snapshot() map[string]any {
	snap := map[string]any{"status": string(f.Status)}
	if f.ApplicantName != "" {
		snap[string(FieldApplicantName)] = f.ApplicantName
	}
	if f.Amount != nil {
		snap[string(FieldAmount)] = f.Amount.String()
	}
	if f.LoanType != "" {
		snap[string(FieldLoanType)] = string(f.LoanType)
	}
	if f.CreditScore != nil {
		snap[string(FieldCreditScore)] = *f.CreditScore
	}
	if f.MonthlyIncome != nil {
		snap[string(FieldMonthlyIncome)] = f.MonthlyIncome.String()
	}
	if f.EmploymentStatus != "" {
		snap[string(FieldEmploymentStatus)] = string(f.EmploymentStatus)
	}
	if f.Purpose != "" {
		snap[string(FieldPurpose)] = f.Purpose
	}
	if f.TermMonths != nil {
		snap[string(FieldTermMonths)] = *f.TermMonths
	}
	if f.InterestRate != nil {
		snap["interestRate"] = f.InterestRate.String()
	}
	return snap
}
