package loan

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateNormalizes(t *testing.T) {
	cases := []struct {
		name  string
		field Field
		raw   string
		want  string
	}{
		{"amount with currency decoration", FieldAmount, "$250,000.00", "250000"},
		{"amount plain", FieldAmount, "45000", "45000"},
		{"income decimal", FieldMonthlyIncome, "8500.50", "8500.5"},
		{"credit score trimmed", FieldCreditScore, " 720 ", "720"},
		{"loan type case folded", FieldLoanType, "Mortgage", "mortgage"},
		{"employment spaced variant", FieldEmploymentStatus, "full time", "full-time"},
		{"employment hyphenated", FieldEmploymentStatus, "Self-Employed", "self-employed"},
		{"term on menu", FieldTermMonths, "360", "360"},
		{"name passes through", FieldApplicantName, "Dana Whitfield", "Dana Whitfield"},
		{"purpose passes through", FieldPurpose, "kitchen remodel", "kitchen remodel"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Validate(tc.field, tc.raw)
			if err != nil {
				t.Fatalf("Validate(%s, %q) returned error: %v", tc.field, tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("Validate(%s, %q) = %q, want %q", tc.field, tc.raw, got, tc.want)
			}
		})
	}
}

// Validating an already-normalized value must return it unchanged.
func TestValidateIdempotent(t *testing.T) {
	cases := []struct {
		field Field
		raw   string
	}{
		{FieldAmount, "$45,000"},
		{FieldMonthlyIncome, "6000"},
		{FieldCreditScore, "720"},
		{FieldLoanType, "AUTO"},
		{FieldEmploymentStatus, "self employed"},
		{FieldTermMonths, "60"},
	}

	for _, tc := range cases {
		first, err := Validate(tc.field, tc.raw)
		if err != nil {
			t.Fatalf("first Validate(%s, %q): %v", tc.field, tc.raw, err)
		}
		second, err := Validate(tc.field, first)
		if err != nil {
			t.Fatalf("second Validate(%s, %q): %v", tc.field, first, err)
		}
		if second != first {
			t.Fatalf("Validate(%s) not idempotent: %q then %q", tc.field, first, second)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		field  Field
		raw    string
		reason string
	}{
		{"empty value", FieldAmount, "   ", ReasonEmpty},
		{"amount not a number", FieldAmount, "a lot", ReasonNotANumber},
		{"amount zero", FieldAmount, "0", ReasonNonPositive},
		{"amount negative", FieldMonthlyIncome, "-500", ReasonNonPositive},
		{"score fractional", FieldCreditScore, "720.5", ReasonNotAnInteger},
		{"score below range", FieldCreditScore, "250", ReasonOutOfRange},
		{"score above range", FieldCreditScore, "900", ReasonOutOfRange},
		{"loan type unknown", FieldLoanType, "boat", ReasonUnrecognizedEnum},
		{"employment unknown", FieldEmploymentStatus, "gig", ReasonUnrecognizedEnum},
		{"term off menu", FieldTermMonths, "48", ReasonNotOnMenu},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.field, tc.raw)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate(%s, %q) error = %v, want *ValidationError", tc.field, tc.raw, err)
			}
			if verr.Reason != tc.reason {
				t.Fatalf("Validate(%s, %q) reason = %q, want %q", tc.field, tc.raw, verr.Reason, tc.reason)
			}
			if verr.Field != tc.field {
				t.Fatalf("Validate(%s, %q) reported field %q", tc.field, tc.raw, verr.Field)
			}
		})
	}
}

func TestValidateUnknownField(t *testing.T) {
	if _, err := Validate(Field("shoeSize"), "42"); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestApplyReopensDecidedDraft(t *testing.T) {
	fields := NewFieldSet()
	if _, err := fields.Apply(FieldAmount, "45000"); err != nil {
		t.Fatalf("apply amount: %v", err)
	}
	rate := decimal.NewFromFloat(6.0)
	fields.Status = StatusApproved
	fields.InterestRate = &rate

	// Re-applying the same value is not a change and keeps the status.
	changed, err := fields.Apply(FieldAmount, "45000")
	if err != nil {
		t.Fatalf("re-apply amount: %v", err)
	}
	if changed {
		t.Fatal("identical value reported as changed")
	}
	if fields.Status != StatusApproved {
		t.Fatalf("status after no-op apply = %s, want approved", fields.Status)
	}
	if fields.InterestRate == nil {
		t.Fatal("rate cleared by a no-op apply")
	}

	changed, err = fields.Apply(FieldAmount, "60000")
	if err != nil {
		t.Fatalf("apply new amount: %v", err)
	}
	if !changed {
		t.Fatal("new value not reported as changed")
	}
	if fields.Status != StatusPending {
		t.Fatalf("status after real change = %s, want pending", fields.Status)
	}
	if fields.InterestRate != nil {
		t.Fatalf("stale rate %v survived the reopen", fields.InterestRate)
	}
}

func TestMissingRequired(t *testing.T) {
	fields := NewFieldSet()
	missing := fields.MissingRequired()
	want := []Field{FieldAmount, FieldLoanType, FieldMonthlyIncome}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("missing = %v, want %v", missing, want)
		}
	}

	fields.Apply(FieldAmount, "45000")
	fields.Apply(FieldLoanType, "auto")
	fields.Apply(FieldMonthlyIncome, "6000")
	if got := fields.MissingRequired(); len(got) != 0 {
		t.Fatalf("complete set still missing %v", got)
	}
}
