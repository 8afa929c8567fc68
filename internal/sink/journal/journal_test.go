package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/upnp-control-go/internal/db"
	"github.com/strefethen/upnp-control-go/internal/sink"
)

func setupTestJournal(t *testing.T) *Journal {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return New(dbPair)
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Publish(ctx, []sink.Change{
		{DeviceUDN: "uuid:a", DeviceName: "Kitchen", ServiceID: "urn:upnp-org:serviceId:AVTransport", Variable: "TransportState", Value: "PLAYING", WireValue: "PLAYING", ChangedAt: base},
		{DeviceUDN: "uuid:a", DeviceName: "Kitchen", ServiceID: "urn:upnp-org:serviceId:RenderingControl", Variable: "Volume", Value: 12, WireValue: "12", ChangedAt: base.Add(time.Second)},
	}))
	require.NoError(t, j.Record(ctx, []sink.Change{
		{DeviceUDN: "uuid:b", DeviceName: "Office", ServiceID: "urn:upnp-org:serviceId:RenderingControl", Variable: "Mute", Value: true, WireValue: "1", ChangedAt: base.Add(2 * time.Second)},
	}))

	entries, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "Mute", entries[0].Variable)
	require.Equal(t, "1", entries[0].WireValue)
	require.Equal(t, "Office", entries[0].DeviceName)
	require.Equal(t, "TransportState", entries[2].Variable)
	require.Equal(t, db.FormatTime(base), entries[2].ChangedAt)

	entries, err = j.Recent(ctx, "uuid:a", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Volume", entries[0].Variable)
}

func TestJournal_EmptyBatch(t *testing.T) {
	j := setupTestJournal(t)
	require.NoError(t, j.Record(context.Background(), nil))

	entries, err := j.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestJournal_Prune(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, []sink.Change{
		{DeviceUDN: "uuid:a", ServiceID: "s", Variable: "Old", WireValue: "1", ChangedAt: base},
		{DeviceUDN: "uuid:a", ServiceID: "s", Variable: "New", WireValue: "2", ChangedAt: base.Add(time.Hour)},
	}))

	n, err := j.Prune(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	entries, err := j.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "New", entries[0].Variable)
}
