package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)

// DefaultReceiptNumberTemplate yields numbers like RCT-202501-000001.
const DefaultReceiptNumberTemplate = "RCT-{YYYY}{MM}-{SEQ6}"

// PeriodKey is the sequence bucket for a receipt issued at t.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("200601")
}

// FormatReceiptNumber renders template for a receipt issued at issuedAt with
// the given per-period sequence value. It has no side effects.
func FormatReceiptNumber(template string, issuedAt time.Time, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("receipt number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid receipt sequence: %d", seq)
	}

	issuedAt = issuedAt.UTC()
	out := template
	out = strings.ReplaceAll(out, "{YYYY}", issuedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", issuedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", issuedAt.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", issuedAt.Format("02"))
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in receipt format: %s", out)
	}
	return out, nil
}
