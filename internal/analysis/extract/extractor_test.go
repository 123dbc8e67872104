package extract

import (
	"testing"

	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

func TestExtractMultipleFieldsFromOneUtterance(t *testing.T) {
	result := Extract("I need 45 thousand for a car, I make 6k a month", loan.NewFieldSet(), "")

	fields := result.Updated
	if fields.Amount == nil || fields.Amount.String() != "45000" {
		t.Fatalf("amount = %v, want 45000", fields.Amount)
	}
	if fields.MonthlyIncome == nil || fields.MonthlyIncome.String() != "6000" {
		t.Fatalf("monthlyIncome = %v, want 6000", fields.MonthlyIncome)
	}
	if fields.LoanType != loan.TypeAuto {
		t.Fatalf("loanType = %q, want auto", fields.LoanType)
	}
	if fields.Purpose != "car" {
		t.Fatalf("purpose = %q, want car", fields.Purpose)
	}

	wantChanged := []loan.Field{loan.FieldAmount, loan.FieldLoanType, loan.FieldMonthlyIncome, loan.FieldPurpose}
	if len(result.Changed) != len(wantChanged) {
		t.Fatalf("changed = %v, want %v", result.Changed, wantChanged)
	}
	for i := range wantChanged {
		if result.Changed[i] != wantChanged[i] {
			t.Fatalf("changed = %v, want %v", result.Changed, wantChanged)
		}
	}
}

func TestExtractKeywordProximityDisambiguation(t *testing.T) {
	result := Extract("I earn 5000 monthly and want to borrow 20000", loan.NewFieldSet(), "")

	fields := result.Updated
	if fields.MonthlyIncome == nil || fields.MonthlyIncome.String() != "5000" {
		t.Fatalf("monthlyIncome = %v, want 5000", fields.MonthlyIncome)
	}
	if fields.Amount == nil || fields.Amount.String() != "20000" {
		t.Fatalf("amount = %v, want 20000", fields.Amount)
	}
}

func TestExtractPositionalFallback(t *testing.T) {
	// No keyword near either number: first reads as amount, second as
	// income.
	result := Extract("around 50000, maybe 4000", loan.NewFieldSet(), "")

	fields := result.Updated
	if fields.Amount == nil || fields.Amount.String() != "50000" {
		t.Fatalf("amount = %v, want 50000", fields.Amount)
	}
	if fields.MonthlyIncome == nil || fields.MonthlyIncome.String() != "4000" {
		t.Fatalf("monthlyIncome = %v, want 4000", fields.MonthlyIncome)
	}
}

// A turn that fails to parse never reverts a previously accepted value.
func TestExtractRetainsEarlierValues(t *testing.T) {
	first := Extract("my credit score is 720", loan.NewFieldSet(), "")
	if first.Updated.CreditScore == nil || *first.Updated.CreditScore != 720 {
		t.Fatalf("creditScore = %v, want 720", first.Updated.CreditScore)
	}

	second := Extract("my credit score is 900", first.Updated, "")
	if second.Updated.CreditScore == nil || *second.Updated.CreditScore != 720 {
		t.Fatalf("creditScore after invalid update = %v, want 720 retained", second.Updated.CreditScore)
	}
	if len(second.Changed) != 0 {
		t.Fatalf("changed = %v, want empty", second.Changed)
	}
}

func TestExtractCreditScoreRequiresKeyword(t *testing.T) {
	result := Extract("i need 450 for new tires", loan.NewFieldSet(), "")

	fields := result.Updated
	if fields.CreditScore != nil {
		t.Fatalf("creditScore = %d, want unset without a credit keyword", *fields.CreditScore)
	}
	if fields.Amount == nil || fields.Amount.String() != "450" {
		t.Fatalf("amount = %v, want 450", fields.Amount)
	}
}

func TestExtractTermClaimsItsSpan(t *testing.T) {
	result := Extract("let's do 36 months", loan.NewFieldSet(), "")

	fields := result.Updated
	if fields.TermMonths == nil || *fields.TermMonths != 36 {
		t.Fatalf("termMonths = %v, want 36", fields.TermMonths)
	}
	if fields.Amount != nil {
		t.Fatalf("amount = %v, want unset; the term number must not read as money", fields.Amount)
	}
}

func TestExtractTermInYears(t *testing.T) {
	result := Extract("a 30 year term works for me", loan.NewFieldSet(), "")
	if result.Updated.TermMonths == nil || *result.Updated.TermMonths != 360 {
		t.Fatalf("termMonths = %v, want 360", result.Updated.TermMonths)
	}
}

func TestExtractLoanTypeTieStaysUnset(t *testing.T) {
	result := Extract("should i finance the car or the house", loan.NewFieldSet(), "")
	if result.Updated.LoanType != "" {
		t.Fatalf("loanType = %q, want unset on a tie", result.Updated.LoanType)
	}
}

func TestExtractEmploymentAndName(t *testing.T) {
	result := Extract("My name is Rosa Martinez and I'm self employed", loan.NewFieldSet(), "")

	fields := result.Updated
	if fields.ApplicantName != "Rosa Martinez" {
		t.Fatalf("applicantName = %q, want Rosa Martinez", fields.ApplicantName)
	}
	if fields.EmploymentStatus != loan.EmploymentSelfEmployed {
		t.Fatalf("employmentStatus = %q, want self-employed", fields.EmploymentStatus)
	}
}

func TestExtractHintTakesPrecedence(t *testing.T) {
	result := Extract("I'd like to borrow 45k", loan.NewFieldSet(), `{"amount": 60000}`)
	if result.Updated.Amount == nil || result.Updated.Amount.String() != "60000" {
		t.Fatalf("amount = %v, want hint value 60000", result.Updated.Amount)
	}
}

func TestExtractInvalidHintValueDegrades(t *testing.T) {
	result := Extract("", loan.NewFieldSet(), `{"creditScore": "excellent", "loanType": "auto"}`)

	fields := result.Updated
	if fields.CreditScore != nil {
		t.Fatalf("creditScore = %v, want unset for unparseable hint", fields.CreditScore)
	}
	if fields.LoanType != loan.TypeAuto {
		t.Fatalf("loanType = %q, want auto from the valid hint key", fields.LoanType)
	}
}

func TestExtractEmptyUtteranceIsNoOp(t *testing.T) {
	result := Extract("   ", loan.NewFieldSet(), "")
	if len(result.Changed) != 0 {
		t.Fatalf("changed = %v, want empty", result.Changed)
	}
}

func TestParseHint(t *testing.T) {
	cases := []struct {
		name      string
		reply     string
		wantClean string
		wantHint  string
	}{
		{
			name:      "fenced block",
			reply:     "Got it, noted!\n```json\n{\"amount\": 45000}\n```",
			wantClean: "Got it, noted!",
			wantHint:  `{"amount": 45000}`,
		},
		{
			name:      "trailing object",
			reply:     `Sounds good. {"loanType": "auto"}`,
			wantClean: "Sounds good.",
			wantHint:  `{"loanType": "auto"}`,
		},
		{
			name:      "no sidecar",
			reply:     "How much would you like to borrow?",
			wantClean: "How much would you like to borrow?",
			wantHint:  "",
		},
		{
			name:      "invalid json left alone",
			reply:     "use {braces} here",
			wantClean: "use {braces} here",
			wantHint:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clean, hint := ParseHint(tc.reply)
			if clean != tc.wantClean {
				t.Fatalf("clean = %q, want %q", clean, tc.wantClean)
			}
			if hint != tc.wantHint {
				t.Fatalf("hint = %q, want %q", hint, tc.wantHint)
			}
		})
	}
}
