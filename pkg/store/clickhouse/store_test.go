package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-network/nodetracker/pkg/balance"
)

func TestGroupByPeer(t *testing.T) {
	row := func(peer, date, bal string) balance.Entry {
		return balance.Entry{Date: date, PeerID: peer, Balance: bal, Hostname: "host-" + peer}
	}

	logs := groupByPeer([]balance.Entry{
		row("QmA", "2024-10-01 12:00:00", "1"),
		row("QmA", "2024-10-01 12:10:00", "2"),
		row("QmB", "2024-10-01 12:05:00", "7"),
		row("QmC", "2024-10-01 11:00:00", "3"),
		row("QmC", "2024-10-01 10:00:00", "2"),
		row("QmC", "2024-10-01 12:00:00", "4"),
	})

	require.Len(t, logs, 3)
	assert.Equal(t, []string{"QmA", "QmB", "QmC"}, []string{logs[0].PeerID, logs[1].PeerID, logs[2].PeerID})
	assert.Len(t, logs[0].Entries, 2)
	assert.Len(t, logs[1].Entries, 1)
	require.Len(t, logs[2].Entries, 3)
	// insertion order is kept; chronological sorting happens on the read path
	assert.Equal(t, []string{"3", "2", "4"}, []string{
		logs[2].Entries[0].Balance, logs[2].Entries[1].Balance, logs[2].Entries[2].Balance,
	})
	for _, l := range logs {
		for _, e := range l.Entries {
			assert.Equal(t, l.PeerID, e.PeerID)
		}
	}
}

func TestGroupByPeerEmpty(t *testing.T) {
	assert.Empty(t, groupByPeer(nil))
}
