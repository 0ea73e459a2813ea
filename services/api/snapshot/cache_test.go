package snapshot

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
)

func openInMemory(t *testing.T, version string) *Cache {
	t.Helper()
	c, err := Open(Config{InMemory: true, Version: version, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func putRaw(t *testing.T, c *Cache, payload string) {
	t.Helper()
	require.NoError(t, c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(Key), []byte(payload))
	}))
}

func sampleTree() []network.Module {
	ts := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	return []network.Module{
		{
			ID:             "m1",
			Code:           "M-01",
			CurrentFlow:    0.05,
			AccumulatedVol: 3.2,
			Points: []network.DeliveryPoint{
				{
					ID:             "p1",
					CurrentQ:       0.05,
					Accumulated:    1.2,
					IsOpen:         true,
					Section:        network.SectionForKm(12),
					LastMeasuredAt: ts,
					Measurements:   []network.Measurement{{PointID: "p1", Flow: 0.05, Volume: 0.0003, Timestamp: ts}},
				},
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := openInMemory(t, "")
	assert.Equal(t, SchemaVersion, c.Version())

	require.NoError(t, c.Save(sampleTree()))

	got, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, sampleTree(), got)
}

func TestLoadEmptyStore(t *testing.T) {
	c := openInMemory(t, "")
	got, ok := c.Load()
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSaveEmptyTree(t *testing.T) {
	c := openInMemory(t, "")
	require.NoError(t, c.Save(nil))

	got, ok := c.Load()
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestLoadVersionGate(t *testing.T) {
	c := openInMemory(t, "network-v2")

	tests := []struct {
		name    string
		payload string
	}{
		{name: "older version", payload: `{"version":"network-v1","modules":[]}`},
		{name: "missing version", payload: `{"modules":[]}`},
		{name: "malformed json", payload: `{"version":"network-v2","modules":[`},
		{name: "wrong shape", payload: `{"version":"network-v2","modules":{"id":"m1"}}`},
		{name: "null modules", payload: `{"version":"network-v2","modules":null}`},
		{name: "not json at all", payload: "\x00\x01garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			putRaw(t, c, tt.payload)
			assert.NotPanics(t, func() {
				got, ok := c.Load()
				assert.False(t, ok)
				assert.Nil(t, got)
			})
		})
	}

	putRaw(t, c, `{"version":"network-v2","modules":[{"id":"m9","points":[]}]}`)
	got, ok := c.Load()
	require.True(t, ok)
	assert.Equal(t, "m9", got[0].ID)
}

func TestVersionBumpInvalidatesPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()

	c1, err := Open(Config{Path: dir, Logger: zap.NewNop()})
	require.NoError(t, err)
	require.NoError(t, c1.Save(sampleTree()))
	require.NoError(t, c1.Close())

	c2, err := Open(Config{Path: dir, Logger: zap.NewNop()})
	require.NoError(t, err)
	got, ok := c2.Load()
	require.True(t, ok, "same version survives a restart")
	assert.Equal(t, sampleTree(), got)
	require.NoError(t, c2.Close())

	c3, err := Open(Config{Path: dir, Version: "network-v2", Logger: zap.NewNop()})
	require.NoError(t, err)
	defer c3.Close()
	_, ok = c3.Load()
	assert.False(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
