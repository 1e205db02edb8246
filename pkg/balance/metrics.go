package balance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultGapThreshold is the elapsed time after which a sample is treated as a
// measurement gap instead of a rate.
const DefaultGapThreshold = 120 * time.Minute

// Point is a record that survived gap exclusion, with its rates.
type Point struct {
	Record
	ElapsedMinutes float64
	PerMinute      float64
	PerHour        float64
}

// HourlyGrowth is the last balance of an hour and its change from the
// identifier's previous hour. Growth is not scaled by how much of the hour the
// samples cover.
type HourlyGrowth struct {
	PeerID  string          `json:"peer_id"`
	Hour    time.Time       `json:"hour"`
	Balance decimal.Decimal `json:"balance"`
	Growth  decimal.Decimal `json:"growth"`
}

// Latest is one row of the latest-state table.
type Latest struct {
	Index     int             `json:"index"`
	PeerID    string          `json:"peer_id"`
	Hostname  string          `json:"hostname"`
	Balance   decimal.Decimal `json:"balance"`
	PerMinute float64         `json:"per_minute"`
	PerHour   float64         `json:"per_hour"`
	Time      time.Time       `json:"time"`
}

type Metrics struct {
	Series []Point
	Hourly []HourlyGrowth
	Latest []Latest
}

// Derive computes rates, hourly growth and the latest row per identifier.
// sorted must be in chronological order (see Combine).
//
// Each record's rate is relative to the previous record of the same
// identifier, including records later dropped as gaps. The first record of an
// identifier has elapsed time and rate 0. Records at or beyond gap are dropped
// before the hourly and latest rollups.
func Derive(sorted []Record, gap time.Duration) Metrics {
	if gap <= 0 {
		gap = DefaultGapThreshold
	}
	limit := gap.Minutes()

	prev := make(map[string]Record)
	series := make([]Point, 0, len(sorted))
	for _, r := range sorted {
		p := Point{Record: r}
		if last, ok := prev[r.PeerID]; ok {
			p.ElapsedMinutes = r.Time.Sub(last.Time).Minutes()
			if p.ElapsedMinutes != 0 {
				p.PerMinute = r.Balance.Sub(last.Balance).InexactFloat64() / p.ElapsedMinutes
			}
		}
		prev[r.PeerID] = r

		if p.ElapsedMinutes >= limit {
			continue
		}
		p.PerHour = p.PerMinute * 60
		series = append(series, p)
	}

	return Metrics{
		Series: series,
		Hourly: hourly(series),
		Latest: latest(series),
	}
}

func hourly(series []Point) []HourlyGrowth {
	buckets := make(map[string][]HourlyGrowth)
	for _, p := range series {
		hour := p.Time.UTC().Truncate(time.Hour)
		b := buckets[p.PeerID]
		if n := len(b); n > 0 && b[n-1].Hour.Equal(hour) {
			b[n-1].Balance = p.Balance
			continue
		}
		buckets[p.PeerID] = append(b, HourlyGrowth{PeerID: p.PeerID, Hour: hour, Balance: p.Balance})
	}

	out := make([]HourlyGrowth, 0)
	for _, id := range sortedKeys(buckets) {
		b := buckets[id]
		for i := range b {
			if i == 0 {
				b[i].Growth = decimal.Zero
				continue
			}
			b[i].Growth = b[i].Balance.Sub(b[i-1].Balance)
		}
		out = append(out, b...)
	}
	return out
}

func latest(series []Point) []Latest {
	last := make(map[string]Point)
	for _, p := range series {
		last[p.PeerID] = p
	}

	out := make([]Latest, 0, len(last))
	for i, id := range sortedKeys(last) {
		p := last[id]
		out = append(out, Latest{
			Index:     i,
			PeerID:    id,
			Hostname:  p.Hostname,
			Balance:   p.Balance,
			PerMinute: p.PerMinute,
			PerHour:   p.PerHour,
			Time:      p.Time,
		})
	}
	return out
}

// BySeries splits points per identifier, identifiers in ascending order.
func BySeries(series []Point) (ids []string, points map[string][]Point) {
	points = make(map[string][]Point)
	for _, p := range series {
		points[p.PeerID] = append(points[p.PeerID], p)
	}
	return sortedKeys(points), points
}

// Analyze runs the full read-side pipeline over raw logs.
func Analyze(logs []Log, gap time.Duration) (Metrics, []error) {
	records, skipped := Normalize(logs)
	return Derive(Combine(records), gap), skipped
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
