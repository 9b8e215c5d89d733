package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"perp-grid-bot-go/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// Journal is an append-only sqlite log of fills and closed round trips.
// It backs the 24h trade count and the session report; grid state itself
// lives in the snapshot repository.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer keeps sqlite from returning SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	createFillsTableSQL := `
	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		closing BOOLEAN NOT NULL,
		filled_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createFillsTableSQL); err != nil {
		return err
	}

	createRoundTripsTableSQL := `
	CREATE TABLE IF NOT EXISTS round_trips (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		profit REAL NOT NULL,
		closed_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createRoundTripsTableSQL); err != nil {
		return err
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_round_trips_closed_at ON round_trips (closed_at);`); err != nil {
		return err
	}
	return nil
}

// RecordFill appends one fill.
func (j *Journal) RecordFill(f models.FillRecord) error {
	query := `
	INSERT INTO fills (order_id, pair, side, price, quantity, closing, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query, f.OrderID, f.Pair, string(f.Side), f.Price, f.Quantity, f.Closing, stamp(f.Time))
	if err != nil {
		return fmt.Errorf("failed to insert fill %s: %w", f.OrderID, err)
	}
	return nil
}

// RecordRoundTrip appends one closed round trip.
func (j *Journal) RecordRoundTrip(rt models.RoundTrip) error {
	query := `
	INSERT INTO round_trips (pair, side, entry_price, exit_price, quantity, profit, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query, rt.Pair, string(rt.Side), rt.EntryPrice, rt.ExitPrice, rt.Quantity, rt.Profit, stamp(rt.Time))
	if err != nil {
		return fmt.Errorf("failed to insert round trip: %w", err)
	}
	return nil
}

// CountSince returns how many round trips closed at or after since.
func (j *Journal) CountSince(since time.Time) (int, error) {
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM round_trips WHERE closed_at >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count round trips: %w", err)
	}
	return n, nil
}

// RoundTripsSince returns round trips closed at or after since, oldest first.
func (j *Journal) RoundTripsSince(since time.Time) ([]models.RoundTrip, error) {
	query := `
	SELECT pair, side, entry_price, exit_price, quantity, profit, closed_at
	FROM round_trips
	WHERE closed_at >= ?
	ORDER BY closed_at, id`

	rows, err := j.db.Query(query, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query round trips: %w", err)
	}
	defer rows.Close()

	var trips []models.RoundTrip
	for rows.Next() {
		var rt models.RoundTrip
		var side string
		var closedAt int64
		if err := rows.Scan(&rt.Pair, &side, &rt.EntryPrice, &rt.ExitPrice, &rt.Quantity, &rt.Profit, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round trip row: %w", err)
		}
		rt.Side = models.Side(side)
		rt.Time = time.UnixMilli(closedAt).UTC()
		trips = append(trips, rt)
	}
	return trips, rows.Err()
}

// FillCount returns the number of journaled fills for pair.
func (j *Journal) FillCount(pair string) (int, error) {
	var n int
	if err := j.db.QueryRow(`SELECT COUNT(*) FROM fills WHERE pair = ?`, pair).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fills: %w", err)
	}
	return n, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}
