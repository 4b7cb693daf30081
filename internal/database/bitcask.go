package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go-jvman/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// EntryKeyPrefix prefixes every download history key.
const EntryKeyPrefix = "download_"

// gzipMagicBytes are the first two bytes of a gzip stream.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// DB wraps the bitcask store holding the download history.
type DB struct {
	db *bitcask.Bitcask
	sync.RWMutex
}

// Open opens (or creates) the store at path.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Debugf("Database opened at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close waits for in-flight operations and closes the store.
func (d *DB) Close() error {
	log.Debug("Closing database")
	d.Lock()
	defer d.Unlock()
	return d.db.Close()
}

func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value for key, decompressing it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}
	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressedValue)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes key. Deleting an absent key returns ErrNotFound.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	defer d.Unlock()
	if !d.db.Has(key) {
		return ErrNotFound
	}
	if err := d.db.Delete(key); err != nil {
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// ErrCorrupt matches a CorruptError.
var ErrCorrupt = errors.New("unreadable value")

// CorruptError lists the keys whose values could not be read or decoded.
type CorruptError struct {
	Keys []string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%d unreadable values: %s", len(e.Keys), strings.Join(e.Keys, ", "))
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

// Fold calls fn with every key and its decompressed value. Unreadable values
// are skipped and reported together as a *CorruptError once every key was
// visited. An error from fn stops the walk and is returned as is.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	var corrupt []string
	err := d.db.Fold(func(key []byte) error {
		rawValue, err := d.db.Get(key)
		if err == nil {
			rawValue, err = decompressIfGzipped(rawValue)
		}
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable value for key %s", string(key))
			corrupt = append(corrupt, string(key))
			return nil
		}
		return fn(key, rawValue)
	})
	if err != nil {
		return err
	}
	if len(corrupt) > 0 {
		return &CorruptError{Keys: corrupt}
	}
	return nil
}

// --- Download history ---

// EntryKey returns the store key of a history entry.
func EntryKey(id string) []byte {
	return []byte(EntryKeyPrefix + id)
}

// PutEntry stores entry under its ID, replacing any previous version.
func (d *DB) PutEntry(entry models.DatabaseEntry) error {
	if entry.ID == "" {
		return errors.New("cannot store history entry without an ID")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshalling history entry %s: %w", entry.ID, err)
	}
	return d.Put(EntryKey(entry.ID), data)
}

// GetEntry loads the history entry with the given ID.
func (d *DB) GetEntry(id string) (models.DatabaseEntry, error) {
	var entry models.DatabaseEntry
	data, err := d.Get(EntryKey(id))
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("error unmarshalling history entry %s: %w", id, err)
	}
	return entry, nil
}

// UpdateEntry loads the entry with the given ID, applies fn and stores the
// result.
func (d *DB) UpdateEntry(id string, fn func(*models.DatabaseEntry)) error {
	entry, err := d.GetEntry(id)
	if err != nil {
		return err
	}
	fn(&entry)
	return d.PutEntry(entry)
}

func (d *DB) DeleteEntry(id string) error {
	return d.Delete(EntryKey(id))
}

// Entries returns every history entry, oldest first. Keys outside the
// history namespace are ignored. Entries that cannot be read are left out and
// reported as a *CorruptError alongside the readable ones.
func (d *DB) Entries() ([]models.DatabaseEntry, error) {
	var entries []models.DatabaseEntry
	var unreadable []string
	err := d.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), EntryKeyPrefix) {
			return nil
		}
		var entry models.DatabaseEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			log.WithError(err).Warnf("Skipping undecodable history entry %s", string(key))
			unreadable = append(unreadable, string(key))
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	var corrupt *CorruptError
	if errors.As(err, &corrupt) {
		for _, key := range corrupt.Keys {
			if strings.HasPrefix(key, EntryKeyPrefix) {
				unreadable = append(unreadable, key)
			}
		}
	} else if err != nil {
		return nil, fmt.Errorf("error reading history: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StartedAt.Equal(entries[j].StartedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].StartedAt.Before(entries[j].StartedAt)
	})
	if len(unreadable) > 0 {
		sort.Strings(unreadable)
		return entries, &CorruptError{Keys: unreadable}
	}
	return entries, nil
}

// FindEntry returns the entry whose ID starts with prefix. An ambiguous
// prefix is an error.
func (d *DB) FindEntry(prefix string) (models.DatabaseEntry, error) {
	if entry, err := d.GetEntry(prefix); err == nil {
		return entry, nil
	} else if !errors.Is(err, ErrNotFound) {
		return models.DatabaseEntry{}, err
	}

	entries, err := d.Entries()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return models.DatabaseEntry{}, err
	}
	var matches []models.DatabaseEntry
	for _, entry := range entries {
		if strings.HasPrefix(entry.ID, prefix) {
			matches = append(matches, entry)
		}
	}
	switch len(matches) {
	case 0:
		return models.DatabaseEntry{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return models.DatabaseEntry{}, fmt.Errorf("id prefix %q matches %d entries", prefix, len(matches))
	}
}

// --- Compression Helpers ---

// decompressIfGzipped returns values without the gzip header unchanged. A
// value that starts like a gzip stream but does not decode is an error.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, gzipMagicBytes) {
		return value, nil
	}
	gReader, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, fmt.Errorf("error reading gzip header: %w", err)
	}
	defer gReader.Close()

	decompressedValue, err := io.ReadAll(gReader)
	if err != nil {
		return nil, fmt.Errorf("error decompressing value: %w", err)
	}
	return decompressedValue, nil
}

func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err := gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	// Close flushes the stream.
	if err := gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}
