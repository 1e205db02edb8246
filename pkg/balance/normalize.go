package balance

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"
)

var (
	ErrBadBalance   = errors.New("balance has no numeric value")
	ErrBadTimestamp = errors.New("timestamp is not a date")
)

var numericRun = regexp.MustCompile(`[0-9.]+`)

// Record is a log row with a parsed timestamp and numeric balance.
type Record struct {
	PeerID   string
	Hostname string
	Time     time.Time
	Balance  decimal.Decimal
}

// ParseBalance accepts a plain number or text carrying one, such as "123.45 QUIL".
// Text values use the first run of digits and dots.
func ParseBalance(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if d, err := decimal.NewFromString(s); err == nil {
		return d, nil
	}

	m := numericRun.FindString(s)
	if m == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrBadBalance, raw)
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrBadBalance, raw)
	}
	return d, nil
}

// ParseTimestamp parses the reported date in any common layout. Values without
// a zone are read as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	t, err := dateparse.ParseIn(strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrBadTimestamp, raw, err)
	}
	return t, nil
}

// Normalize parses every entry of every log. Rows that cannot be parsed are
// left out and reported in skipped; they never fail the whole batch.
func Normalize(logs []Log) (records []Record, skipped []error) {
	for _, l := range logs {
		for i, e := range l.Entries {
			bal, err := ParseBalance(e.Balance)
			if err != nil {
				skipped = append(skipped, fmt.Errorf("%s row %d: %w", l.PeerID, i+1, err))
				continue
			}
			ts, err := ParseTimestamp(e.Date)
			if err != nil {
				skipped = append(skipped, fmt.Errorf("%s row %d: %w", l.PeerID, i+1, err))
				continue
			}
			records = append(records, Record{
				PeerID:   e.PeerID,
				Hostname: e.Hostname,
				Time:     ts,
				Balance:  bal,
			})
		}
	}
	return records, skipped
}

// Combine orders records by time. Ties keep their input order.
func Combine(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
