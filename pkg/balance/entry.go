package balance

import (
	"strings"
)

// Header is the first line of every balance log.
const Header = "Date,Peer ID,Balance,Hostname"

// Entry is one raw row of a balance log, fields kept exactly as reported.
type Entry struct {
	Date     string
	PeerID   string
	Balance  string
	Hostname string
}

// Line renders the entry in log column order without a trailing newline.
// Fields are not quoted; Report.Validate keeps commas and newlines out.
func (e Entry) Line() string {
	return strings.Join([]string{e.Date, e.PeerID, e.Balance, e.Hostname}, ",")
}

// EntryFromFields maps a parsed log row back to an Entry. ok is false when the
// row does not have exactly four columns or is the header.
func EntryFromFields(fields []string) (Entry, bool) {
	if len(fields) != 4 {
		return Entry{}, false
	}
	if strings.Join(fields, ",") == Header {
		return Entry{}, false
	}
	return Entry{
		Date:     fields[0],
		PeerID:   fields[1],
		Balance:  fields[2],
		Hostname: fields[3],
	}, true
}

// Log is the ordered content of a single identifier's log.
type Log struct {
	PeerID  string
	Entries []Entry
}
