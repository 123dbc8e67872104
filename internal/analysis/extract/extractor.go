package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lumenfi/loanvoice/backend/internal/model/loan"
)

// Result carries the merged field set after an extraction pass plus the
// names of fields whose stored value actually changed. A turn that fails
// to parse a field never appears in Changed and never reverts a value
// accepted on an earlier turn.
type Result struct {
	Updated loan.FieldSet
	Changed []loan.Field
}

// applyOrder keeps extraction deterministic regardless of map iteration.
var applyOrder = []loan.Field{
	loan.FieldAmount,
	loan.FieldLoanType,
	loan.FieldCreditScore,
	loan.FieldMonthlyIncome,
	loan.FieldEmploymentStatus,
	loan.FieldTermMonths,
	loan.FieldApplicantName,
	loan.FieldPurpose,
}

// Extract derives field updates from the newest user utterance. A model
// hint (JSON sidecar from the completion collaborator) takes precedence
// per field it names; deterministic keyword/regex extraction covers the
// rest. Every candidate passes through the schema validator, so a
// malformed hint or utterance degrades to "no update", never an error.
func Extract(utterance string, current loan.FieldSet, hint string) Result {
	candidates := hintCandidates(hint)

	for field, value := range heuristicCandidates(utterance) {
		if _, taken := candidates[field]; !taken {
			candidates[field] = value
		}
	}

	result := Result{Updated: current}
	for _, field := range applyOrder {
		raw, ok := candidates[field]
		if !ok {
			continue
		}
		normalized, err := loan.Validate(field, raw)
		if err != nil {
			continue
		}
		changed, err := result.Updated.Apply(field, normalized)
		if err != nil {
			continue
		}
		if changed {
			result.Changed = append(result.Changed, field)
		}
	}
	return result
}

var (
	moneyPattern  = regexp.MustCompile(`(?i)\$?\s?(\d+(?:,\d{3})*(?:\.\d+)?)\s*(k|grand|thousand|m|mm|million)?\b`)
	termPattern   = regexp.MustCompile(`(?i)\b(\d+)[\s-]*(years?|yrs?|months?|mos?)\b`)
	scorePattern  = regexp.MustCompile(`\b(\d{3})\b`)
	namePattern   = regexp.MustCompile(`(?i)\b(?:my name is|name's|this is)\s+([A-Za-z][A-Za-z'\-]*(?:\s+[A-Za-z][A-Za-z'\-]*)?)`)
	purposePattern = regexp.MustCompile(`(?i)\bfor\s+(?:a\s+|an\s+|the\s+|my\s+)?([a-z][a-z0-9' \-]{2,60})`)
)

var amountKeywords = []string{"loan", "borrow", "need", "looking for", "amount", "finance", "requesting"}

var incomeKeywords = []string{"income", "make", "earn", "salary", "bring in", "take home", "a month", "per month", "monthly", "a year", "per year", "annually"}

var creditKeywords = []string{"credit", "score", "fico"}

var loanTypeBuckets = map[loan.Type][]string{
	loan.TypeMortgage: {"mortgage", "house", "home", "property", "condo", "real estate", "refinance"},
	loan.TypeAuto:     {"car", "auto", "vehicle", "truck", "suv", "motorcycle"},
	loan.TypePersonal: {"personal", "vacation", "wedding", "medical", "consolidat", "holiday"},
	loan.TypeBusiness: {"business", "startup", "company", "equipment", "inventory", "payroll"},
}

var employmentBuckets = map[loan.Employment][]string{
	loan.EmploymentFullTime:     {"full-time", "full time", "fulltime", "salaried"},
	loan.EmploymentPartTime:     {"part-time", "part time", "parttime"},
	loan.EmploymentSelfEmployed: {"self-employed", "self employed", "freelance", "contractor", "own business", "my own company"},
	loan.EmploymentRetired:      {"retired", "retirement", "pension"},
	loan.EmploymentUnemployed:   {"unemployed", "between jobs", "laid off", "jobless"},
}

// proximityWindow bounds how far (in characters) a field keyword may sit
// from a number and still claim it.
const proximityWindow = 40

func heuristicCandidates(utterance string) map[loan.Field]string {
	candidates := make(map[loan.Field]string)
	normalized := strings.ToLower(utterance)
	if strings.TrimSpace(normalized) == "" {
		return candidates
	}

	// Spans already claimed by a more specific extractor are off limits
	// to the monetary scan.
	var claimed [][2]int

	if pos, months, ok := findTerm(normalized); ok {
		candidates[loan.FieldTermMonths] = strconv.Itoa(months)
		claimed = append(claimed, pos)
	}
	if pos, score, ok := findCreditScore(normalized); ok {
		candidates[loan.FieldCreditScore] = strconv.Itoa(score)
		claimed = append(claimed, pos)
	}

	amount, income := findMonetary(normalized, claimed)
	if amount != "" {
		candidates[loan.FieldAmount] = amount
	}
	if income != "" {
		candidates[loan.FieldMonthlyIncome] = income
	}

	if loanType, ok := bestBucket(normalized, loanTypeBuckets); ok {
		candidates[loan.FieldLoanType] = string(loanType)
	}
	if employment, ok := bestBucket(normalized, employmentBuckets); ok {
		candidates[loan.FieldEmploymentStatus] = string(employment)
	}

	if m := namePattern.FindStringSubmatch(utterance); m != nil {
		candidates[loan.FieldApplicantName] = strings.TrimSpace(m[1])
	}
	if m := purposePattern.FindStringSubmatch(normalized); m != nil {
		candidates[loan.FieldPurpose] = strings.TrimSpace(m[1])
	}

	return candidates
}

// findMonetary resolves amount vs income for every monetary mention.
// Nearest field keyword wins; with no keyword inside the window the
// fallback is positional: first number is the amount, second the income.
func findMonetary(normalized string, claimed [][2]int) (amount, income string) {
	matches := moneyPattern.FindAllStringSubmatchIndex(normalized, -1)

	var positional []string
	for _, m := range matches {
		if overlapsAny(m[0], m[1], claimed) {
			continue
		}
		value, ok := parseMoney(normalized[m[2]:m[3]], submatch(normalized, m, 2))
		if !ok {
			continue
		}

		amountDist := nearestKeyword(normalized, m[0], amountKeywords)
		incomeDist := nearestKeyword(normalized, m[0], incomeKeywords)

		switch {
		case incomeDist <= proximityWindow && incomeDist < amountDist:
			if income == "" {
				income = value
			}
		case amountDist <= proximityWindow && amountDist <= incomeDist:
			if amount == "" {
				amount = value
			}
		default:
			positional = append(positional, value)
		}
	}

	// Last-resort positional assignment for unanchored numbers.
	for _, value := range positional {
		if amount == "" {
			amount = value
		} else if income == "" {
			income = value
		}
	}
	return amount, income
}

func parseMoney(digits, suffix string) (string, bool) {
	value, err := decimal.NewFromString(strings.ReplaceAll(digits, ",", ""))
	if err != nil {
		return "", false
	}
	switch strings.ToLower(suffix) {
	case "k", "grand", "thousand":
		value = value.Mul(decimal.NewFromInt(1000))
	case "m", "mm", "million":
		value = value.Mul(decimal.NewFromInt(1_000_000))
	}
	if !value.IsPositive() {
		return "", false
	}
	return value.String(), true
}

// findCreditScore is keyword gated: a bare 3-digit number only reads as
// a credit score when the utterance talks about credit at all, which
// keeps "need 450 for tires" out of the score field.
func findCreditScore(normalized string) ([2]int, int, bool) {
	keywordAt := -1
	for _, kw := range creditKeywords {
		if idx := strings.Index(normalized, kw); idx >= 0 && (keywordAt == -1 || idx < keywordAt) {
			keywordAt = idx
		}
	}
	if keywordAt == -1 {
		return [2]int{}, 0, false
	}

	best := -1
	var bestPos [2]int
	bestDist := -1
	for _, m := range scorePattern.FindAllStringSubmatchIndex(normalized, -1) {
		score, err := strconv.Atoi(normalized[m[2]:m[3]])
		if err != nil || score < 300 || score > 850 {
			continue
		}
		dist := abs(m[0] - keywordAt)
		if best == -1 || dist < bestDist {
			best = score
			bestPos = [2]int{m[0], m[1]}
			bestDist = dist
		}
	}
	if best == -1 {
		return [2]int{}, 0, false
	}
	return bestPos, best, true
}

func findTerm(normalized string) ([2]int, int, bool) {
	m := termPattern.FindStringSubmatchIndex(normalized)
	if m == nil {
		return [2]int{}, 0, false
	}
	n, err := strconv.Atoi(normalized[m[2]:m[3]])
	if err != nil {
		return [2]int{}, 0, false
	}
	unit := normalized[m[4]:m[5]]
	if strings.HasPrefix(unit, "y") {
		n *= 12
	}
	return [2]int{m[0], m[1]}, n, true
}

// bestBucket mirrors the keyword scoring loop used elsewhere in the
// codebase: every hit scores, highest bucket wins, ties stay unset.
func bestBucket[T ~string](normalized string, buckets map[T][]string) (T, bool) {
	var best T
	bestScore := 0
	tied := false
	for _, label := range sortedKeys(buckets) {
		score := 0
		for _, kw := range buckets[label] {
			if strings.Contains(normalized, kw) {
				score += 3
			}
		}
		if score > bestScore {
			best, bestScore, tied = label, score, false
		} else if score == bestScore && score > 0 {
			tied = true
		}
	}
	if bestScore == 0 || tied {
		return best, false
	}
	return best, true
}

func sortedKeys[T ~string](m map[T][]string) []T {
	keys := make([]T, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func nearestKeyword(normalized string, pos int, keywords []string) int {
	best := proximityWindow + 1
	for _, kw := range keywords {
		from := 0
		for {
			idx := strings.Index(normalized[from:], kw)
			if idx < 0 {
				break
			}
			at := from + idx
			if d := abs(at - pos); d < best {
				best = d
			}
			from = at + len(kw)
		}
	}
	return best
}

func overlapsAny(start, end int, spans [][2]int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

func submatch(s string, m []int, group int) string {
	if m[2*group] < 0 {
		return ""
	}
	return s[m[2*group]:m[2*group+1]]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
