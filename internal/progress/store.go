// Package progress persists playback positions so books resume where
// the listener left off.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketPositions = []byte("positions")

// Position is the persisted resume point for one book.
type Position struct {
	BookID  string    `json:"book_id"`
	Chapter int       `json:"chapter"`
	Segment int       `json:"segment"`
	SavedAt time.Time `json:"saved_at"`
}

// Store persists positions in a BoltDB file. Implements
// tts.ProgressStore.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the progress database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create progress directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open progress db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPositions)
		return err
	})
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save records the current position for a book.
func (s *Store) Save(bookID string, chapter, segment int) error {
	pos := Position{
		BookID:  bookID,
		Chapter: chapter,
		Segment: segment,
		SavedAt: time.Now(),
	}
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).Put([]byte(bookID), data)
	})
}

// Load returns the last saved position for a book. ok is false when no
// position has been saved.
func (s *Store) Load(bookID string) (chapter, segment int, ok bool, err error) {
	var pos Position
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPositions).Get([]byte(bookID))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &pos)
	})
	if err != nil || !ok {
		return 0, 0, false, err
	}
	return pos.Chapter, pos.Segment, true, nil
}

// Delete removes the saved position for a book.
func (s *Store) Delete(bookID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPositions).Delete([]byte(bookID))
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
