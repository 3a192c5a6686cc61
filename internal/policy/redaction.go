package policy

import "regexp"

// piiRule pairs a detector with its replacement marker. Order matters: card
// numbers must be masked before the phone rule can mistake a long digit run
// for a dial string.
type piiRule struct {
	re     *regexp.Regexp
	marker string
}

var piiRules = []piiRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks contact details and card numbers in candidate answers
// before they enter the persisted transcript. Interview answers routinely
// carry short digit runs (years, team sizes, metrics), so the rules stay
// narrow rather than chasing every number.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range piiRules {
		next := rule.re.ReplaceAllString(out, rule.marker)
		if next != out {
			changed = true
			out = next
		}
	}
	return out, changed
}
