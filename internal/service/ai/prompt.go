package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

const basePrompt = `You are Ava, a friendly loan assistant for LoanVoice.
You help applicants assemble a loan application through natural conversation.
Be concise and warm; this text may be read aloud, so avoid markdown, tables
and long enumerations. Ask for at most one missing detail per reply.
Never invent field values the user did not state, and never promise an
approval or a rate beyond what the decision summary below says.`

const hintInstruction = `After your reply, append a fenced json block containing
only the application fields the user stated in their latest message, using
these exact keys where applicable: applicantName, amount, loanType,
creditScore, monthlyIncome, employmentStatus, purpose, termMonths.
Omit the block entirely when the message contains no field values.`

// BuildSystemPrompt assembles the system message for one completion
// call: persona, current draft snapshot, decision summary and the
// sidecar instruction the extractor relies on.
func BuildSystemPrompt(fields loan.FieldSet, decision loan.Decision) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	b.WriteString("\n\nCurrent application draft:\n")
	snapshot, err := json.Marshal(fields.Snapshot())
	if err != nil {
		b.WriteString("(unavailable)")
	} else {
		b.Write(snapshot)
	}

	b.WriteString("\n\nDecision summary: ")
	b.WriteString(describeDecision(decision))

	b.WriteString("\n\n")
	b.WriteString(hintInstruction)
	return b.String()
}

func describeDecision(d loan.Decision) string {
	switch d.Status {
	case loan.StatusNeedsInfo:
		names := make([]string, 0, len(d.Factors))
		for _, f := range d.Factors {
			names = append(names, f.Name)
		}
		return fmt.Sprintf("more information needed (%s)", strings.Join(names, ", "))
	case loan.StatusApproved:
		rate := ""
		if d.InterestRate != nil {
			rate = d.InterestRate.String()
		}
		return fmt.Sprintf("approved at %s%% for %d months (confidence %.2f)", rate, d.TermMonths, d.Confidence)
	case loan.StatusRejected:
		reasons := make([]string, 0, len(d.Factors))
		for _, f := range d.Factors {
			if f.Effect == loan.EffectNegative {
				reasons = append(reasons, f.Name)
			}
		}
		return fmt.Sprintf("not approvable as stated (drivers: %s)", strings.Join(reasons, ", "))
	default:
		return "pending evaluation"
	}
}
