package balance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidReport = errors.New("invalid report")

// Field is a report value that remembers whether it was present in the payload.
// Strings are taken verbatim; numbers and other literals keep their JSON text, so
// `"balance": 12.5` and `"balance": "12.5"` produce the same log column.
type Field struct {
	Value string
	Set   bool
}

func (f *Field) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = Field{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Field{Value: s, Set: true}
		return nil
	}
	*f = Field{Value: string(data), Set: true}
	return nil
}

func (f Field) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Text builds a present Field, mostly for tests and internal callers.
func Text(s string) Field {
	return Field{Value: s, Set: true}
}

// Report is the body of an ingestion call.
type Report struct {
	PeerID    Field `json:"peer_id"`
	Balance   Field `json:"balance"`
	Timestamp Field `json:"timestamp"`
	Hostname  Field `json:"hostname"`
}

// Validate checks that every field is present and that the values can be
// written to a log line unchanged. It never inspects types or ranges.
func (r Report) Validate() error {
	fields := []struct {
		name  string
		field Field
	}{
		{"peer_id", r.PeerID},
		{"balance", r.Balance},
		{"timestamp", r.Timestamp},
		{"hostname", r.Hostname},
	}

	for _, f := range fields {
		if !f.field.Set {
			return fmt.Errorf("%w: missing %s", ErrInvalidReport, f.name)
		}
		if strings.ContainsAny(f.field.Value, ",\r\n") {
			return fmt.Errorf("%w: %s contains a separator", ErrInvalidReport, f.name)
		}
	}

	if !ValidPeerID(r.PeerID.Value) {
		return fmt.Errorf("%w: peer_id is not usable as a log name", ErrInvalidReport)
	}

	return nil
}

// Entry converts a validated report into its log row.
func (r Report) Entry() Entry {
	return Entry{
		Date:     r.Timestamp.Value,
		PeerID:   r.PeerID.Value,
		Balance:  r.Balance.Value,
		Hostname: r.Hostname.Value,
	}
}

// ValidPeerID reports whether id can be embedded in a file name.
func ValidPeerID(id string) bool {
	if id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}
