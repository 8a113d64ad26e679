package parse

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const ticketDateLayout = "20060102"

var (
	ticketRe     = regexp.MustCompile(`^TKT-(\d{8})-([0-9A-Z]{6})$`)
	serialStrip  = regexp.MustCompile(`[\s_]+`)
	serialDashes = regexp.MustCompile(`-{2,}`)
	serialRe     = regexp.MustCompile(`^[0-9A-Z][0-9A-Z-]*[0-9A-Z]$|^[0-9A-Z]$`)
)

// TicketNumber holds the parts of a human-readable ticket number.
type TicketNumber struct {
	Date   time.Time
	Suffix string
}

// FormatTicketNumber builds TKT-YYYYMMDD-XXXXXX. The suffix is upper-cased and
// trimmed or padded to six characters.
func FormatTicketNumber(at time.Time, suffix string) string {
	s := strings.ToUpper(strings.ReplaceAll(suffix, "-", ""))
	if len(s) > 6 {
		s = s[:6]
	}
	for len(s) < 6 {
		s += "0"
	}
	return fmt.Sprintf("TKT-%s-%s", at.UTC().Format(ticketDateLayout), s)
}

// ParseTicketNumber validates a ticket number and splits it into its parts.
func ParseTicketNumber(raw string) (TicketNumber, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	m := ticketRe.FindStringSubmatch(s)
	if m == nil {
		return TicketNumber{}, fmt.Errorf("unable to parse ticket number: %q", raw)
	}
	date, err := time.Parse(ticketDateLayout, m[1])
	if err != nil {
		return TicketNumber{}, fmt.Errorf("invalid date in ticket number %q: %w", raw, err)
	}
	return TicketNumber{Date: date, Suffix: m[2]}, nil
}

// NormalizeSerial upper-cases a cassette serial number and collapses the
// separators people type into single dashes.
func NormalizeSerial(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = serialStrip.ReplaceAllString(s, "-")
	s = serialDashes.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if s == "" || !serialRe.MatchString(s) {
		return "", fmt.Errorf("invalid serial number: %q", raw)
	}
	return s, nil
}
