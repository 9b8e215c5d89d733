package storage

import (
	"path/filepath"
	"testing"
	"time"

	"perp-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordsFills(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.RecordFill(models.FillRecord{OrderID: "a1", Pair: "SOLUSDT", Side: models.Buy, Price: 99, Quantity: 1}))
	require.NoError(t, j.RecordFill(models.FillRecord{OrderID: "a2", Pair: "SOLUSDT", Side: models.Sell, Price: 101, Quantity: 1, Closing: true}))
	require.NoError(t, j.RecordFill(models.FillRecord{OrderID: "b1", Pair: "ETHUSDT", Side: models.Buy, Price: 3000, Quantity: 0.01}))

	n, err := j.FillCount("SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestJournalRoundTripsWindow(t *testing.T) {
	j := openTestJournal(t)
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	old := models.RoundTrip{Pair: "SOLUSDT", Side: models.Sell, EntryPrice: 99, ExitPrice: 101, Quantity: 1, Profit: 2, Time: now.Add(-30 * time.Hour)}
	recent := models.RoundTrip{Pair: "SOLUSDT", Side: models.Buy, EntryPrice: 101, ExitPrice: 100, Quantity: 0.5, Profit: 0.5, Time: now.Add(-time.Hour)}
	require.NoError(t, j.RecordRoundTrip(old))
	require.NoError(t, j.RecordRoundTrip(recent))

	n, err := j.CountSince(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trips, err := j.RoundTripsSince(time.Time{})
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, old, trips[0])
	assert.Equal(t, recent, trips[1])
}

func TestJournalReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordRoundTrip(models.RoundTrip{Pair: "SOLUSDT", Side: models.Sell, Profit: 1, Time: time.Now()}))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	n, err := j.CountSince(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
