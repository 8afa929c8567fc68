package db

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func TestInit_CreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "upnp.db")

	pair, err := Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })

	for _, table := range []string{"devices", "state_changes"} {
		columns, err := tableColumns(pair.Writer(), table)
		require.NoError(t, err)
		require.NotEmpty(t, columns, table)
	}

	columns, err := tableColumns(pair.Writer(), "state_changes")
	require.NoError(t, err)
	require.True(t, columns["device_name"])

	columns, err = tableColumns(pair.Writer(), "devices")
	require.NoError(t, err)
	require.True(t, columns["last_error"])
}

func TestInit_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "upnp.db")

	pair, err := Init(dbPath)
	require.NoError(t, err)
	_, err = pair.Writer().Exec(`INSERT INTO devices (url) VALUES ('http://192.168.1.30:1400/xml/device_description.xml')`)
	require.NoError(t, err)
	require.NoError(t, pair.Close())

	pair, err = Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })

	var count int
	require.NoError(t, pair.Reader().QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestInit_RequiresPath(t *testing.T) {
	_, err := Init("")
	require.Error(t, err)
}

func TestTimeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 123000000, time.UTC)
	require.True(t, ts.Equal(ParseTime(FormatTime(ts))))
	require.True(t, ParseTime("garbage").IsZero())
	require.False(t, ParseTime(NowISO()).IsZero())
	require.Less(t, FormatTime(ts), FormatTime(ts.Add(500*time.Millisecond)))
	require.Less(t, FormatTime(ts.Add(500*time.Millisecond)), FormatTime(ts.Add(time.Second)))
}
