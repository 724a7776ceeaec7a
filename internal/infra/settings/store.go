// Package settings persists the hub configuration that survives a reboot.
package settings

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/source"
)

// DefaultDBPath is the default location of the settings database.
const DefaultDBPath = "data/milo.db"

const (
	keyOutputMode = "output_mode"
	keyEqualizer  = "equalizer_enabled"
	keyVolume     = "volume"
)

// Settings is the persisted configuration. The active source is deliberately
// not part of it: the hub always boots to silence.
type Settings struct {
	OutputMode       source.OutputMode
	EqualizerEnabled bool
	Volume           int
}

// Defaults returns the settings used on first boot.
func Defaults() Settings {
	return Settings{
		OutputMode:       source.ModeDirect,
		EqualizerEnabled: false,
		Volume:           100,
	}
}

// Store is a SQLite-backed key/value settings store.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// NewStore creates a store at path (DefaultDBPath when empty).
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultDBPath
	}
	return &Store{path: path}
}

// Open opens the database and creates the schema if needed.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}

	db, err := sql.Open("sqlite3", s.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open settings database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return fmt.Errorf("create settings schema: %w", err)
	}

	s.db = db
	log.Info().Str("path", s.path).Msg("Settings database opened")
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("settings store not open")
	}
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *Store) get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return "", false, fmt.Errorf("settings store not open")
	}
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SaveOutputMode persists the output mode.
func (s *Store) SaveOutputMode(m source.OutputMode) error {
	return s.set(keyOutputMode, string(m))
}

// SaveEqualizer persists the equalizer flag.
func (s *Store) SaveEqualizer(on bool) error {
	return s.set(keyEqualizer, strconv.FormatBool(on))
}

// SaveVolume persists the last accepted volume.
func (s *Store) SaveVolume(v int) error {
	return s.set(keyVolume, strconv.Itoa(v))
}

// Load reads the persisted settings, filling defaults for anything missing
// or unparseable. A corrupt value is logged and replaced by its default
// rather than failing the boot.
func (s *Store) Load() (Settings, error) {
	out := Defaults()

	if raw, ok, err := s.get(keyOutputMode); err != nil {
		return out, err
	} else if ok {
		if mode, err := source.ParseMode(raw); err == nil {
			out.OutputMode = mode
		} else {
			log.Warn().Str("value", raw).Msg("Ignoring invalid persisted output mode")
		}
	}

	if raw, ok, err := s.get(keyEqualizer); err != nil {
		return out, err
	} else if ok {
		if on, err := strconv.ParseBool(raw); err == nil {
			out.EqualizerEnabled = on
		} else {
			log.Warn().Str("value", raw).Msg("Ignoring invalid persisted equalizer flag")
		}
	}

	if raw, ok, err := s.get(keyVolume); err != nil {
		return out, err
	} else if ok {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 && v <= 100 {
			out.Volume = v
		} else {
			log.Warn().Str("value", raw).Msg("Ignoring invalid persisted volume")
		}
	}

	return out, nil
}
