// Package models persists plant profiles, the species catalog, sensor
// history, watering events and dashboard users in SQLite.
package models

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// writeMu serialises writers; the controller loop and HTTP handlers share
// one database file.
var writeMu sync.Mutex

// OpenDB opens the SQLite file at dsn, creating its directory, and applies
// the schema.
func OpenDB(dsn string) (*sql.DB, error) {
	if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dsn+sep+"_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err = Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

var schema = []struct{ name, stmt string }{
	{"species", `
		CREATE TABLE IF NOT EXISTS species (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			water_amount REAL NOT NULL,
			watering_frequency INTEGER NOT NULL,
			light_min REAL NOT NULL,
			light_max REAL NOT NULL,
			soil_type TEXT NOT NULL DEFAULT '',
			soil_moisture_min REAL NOT NULL,
			soil_moisture_max REAL NOT NULL,
			humidity_min REAL NOT NULL,
			humidity_max REAL NOT NULL,
			temperature_min REAL NOT NULL,
			temperature_max REAL NOT NULL,
			created DATETIME NOT NULL,
			updated DATETIME NOT NULL
		);`},
	{"plants", `
		CREATE TABLE IF NOT EXISTS plants (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			species TEXT NOT NULL,
			position INTEGER NOT NULL UNIQUE,
			soil_moisture_min REAL NOT NULL,
			soil_moisture_max REAL NOT NULL,
			temperature_min REAL NOT NULL,
			temperature_max REAL NOT NULL,
			humidity_min REAL NOT NULL,
			humidity_max REAL NOT NULL,
			light_min REAL NOT NULL,
			light_max REAL NOT NULL,
			water_amount REAL NOT NULL CHECK (water_amount > 0),
			watering_frequency INTEGER NOT NULL CHECK (watering_frequency > 0),
			last_watered DATETIME,
			last_checked DATETIME,
			status TEXT NOT NULL DEFAULT 'active',
			created DATETIME NOT NULL
		);`},
	{"readings", `
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			temperature REAL,
			humidity REAL,
			soil_moisture REAL,
			light REAL,
			water_level REAL,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS readings_timestamp_idx ON readings (timestamp);`},
	{"watering_events", `
		CREATE TABLE IF NOT EXISTS watering_events (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			plant TEXT NOT NULL,
			pump INTEGER NOT NULL,
			amount REAL NOT NULL,
			duration_ms INTEGER NOT NULL,
			success INTEGER NOT NULL,
			source TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		);`},
	{"pump_daily_times", `
		CREATE TABLE IF NOT EXISTS pump_daily_times (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL UNIQUE, -- YYYY-MM-DD
			pump1_seconds REAL NOT NULL,
			pump2_seconds REAL NOT NULL,
			waterings INTEGER NOT NULL
		);`},
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			hashed_password CHAR(60) NOT NULL,
			admin INTEGER NOT NULL DEFAULT 0,
			created DATETIME NOT NULL
		);`},
	{"sessions", `
		CREATE TABLE IF NOT EXISTS sessions (
			token CHAR(43) PRIMARY KEY,
			data BLOB NOT NULL,
			expiry TIMESTAMP(6) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions (expiry);`},
}

// Migrate creates every table that does not exist yet.
func Migrate(db *sql.DB) error {
	for _, t := range schema {
		if _, err := db.Exec(t.stmt); err != nil {
			return fmt.Errorf("create %s table: %w", t.name, err)
		}
	}
	return nil
}
