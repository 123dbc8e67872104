package loan

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownField is returned when a field name is outside the schema.
var ErrUnknownField = errors.New("unknown loan field")

// Validation failure reasons surfaced to callers. These are stable
// strings, the frontend keys re-prompt copy off them.
const (
	ReasonEmpty            = "empty"
	ReasonNotANumber       = "not-a-number"
	ReasonNotAnInteger     = "not-an-integer"
	ReasonNonPositive      = "non-positive"
	ReasonOutOfRange       = "out-of-range"
	ReasonUnrecognizedEnum = "unrecognized-enum"
	ReasonNotOnMenu        = "not-on-menu"
)

// ValidationError reports a rejected field value. It is recoverable:
// the session keeps going and the assistant re-prompts.
type ValidationError struct {
	Field  Field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s rejected: %s", e.Field, e.Reason)
}

var loanTypeVocabulary = map[string]Type{
	"mortgage": TypeMortgage,
	"auto":     TypeAuto,
	"personal": TypePersonal,
	"business": TypeBusiness,
}

var employmentVocabulary = map[string]Employment{
	"full-time":     EmploymentFullTime,
	"fulltime":      EmploymentFullTime,
	"full time":     EmploymentFullTime,
	"part-time":     EmploymentPartTime,
	"parttime":      EmploymentPartTime,
	"part time":     EmploymentPartTime,
	"self-employed": EmploymentSelfEmployed,
	"selfemployed":  EmploymentSelfEmployed,
	"self employed": EmploymentSelfEmployed,
	"retired":       EmploymentRetired,
	"unemployed":    EmploymentUnemployed,
}

// Validate checks and normalizes a raw value for the named field.
// It is pure and total over the schema: every known field yields either
// a canonical string or a *ValidationError; unknown fields yield
// ErrUnknownField. Validating an already-normalized value returns it
// unchanged.
func Validate(field Field, raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", &ValidationError{Field: field, Reason: ReasonEmpty}
	}

	switch field {
	case FieldApplicantName, FieldPurpose:
		return value, nil

	case FieldAmount, FieldMonthlyIncome:
		amount, err := decimal.NewFromString(stripMoney(value))
		if err != nil {
			return "", &ValidationError{Field: field, Reason: ReasonNotANumber}
		}
		if !amount.IsPositive() {
			return "", &ValidationError{Field: field, Reason: ReasonNonPositive}
		}
		return amount.String(), nil

	case FieldCreditScore:
		score, err := parseInt(value)
		if err != nil {
			return "", &ValidationError{Field: field, Reason: ReasonNotAnInteger}
		}
		if score < 300 || score > 850 {
			return "", &ValidationError{Field: field, Reason: ReasonOutOfRange}
		}
		return strconv.Itoa(score), nil

	case FieldLoanType:
		loanType, ok := loanTypeVocabulary[strings.ToLower(value)]
		if !ok {
			return "", &ValidationError{Field: field, Reason: ReasonUnrecognizedEnum}
		}
		return string(loanType), nil

	case FieldEmploymentStatus:
		status, ok := employmentVocabulary[strings.ToLower(value)]
		if !ok {
			return "", &ValidationError{Field: field, Reason: ReasonUnrecognizedEnum}
		}
		return string(status), nil

	case FieldTermMonths:
		months, err := parseInt(value)
		if err != nil {
			return "", &ValidationError{Field: field, Reason: ReasonNotAnInteger}
		}
		for _, allowed := range TermMenu {
			if months == allowed {
				return strconv.Itoa(months), nil
			}
		}
		return "", &ValidationError{Field: field, Reason: ReasonNotOnMenu}

	default:
		return "", ErrUnknownField
	}
}

// stripMoney removes currency decoration so "$250,000.00" parses.
func stripMoney(value string) string {
	value = strings.ReplaceAll(value, "$", "")
	value = strings.ReplaceAll(value, ",", "")
	return strings.TrimSpace(value)
}

func parseInt(value string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(value))
}
