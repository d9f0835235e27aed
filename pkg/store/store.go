// Package store persists accounts, zone records, and per-room runtime state
// in a bbolt database. In-memory state is authoritative while the server
// runs; the store is write-behind for durable zones and the system of
// record across restarts.
package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"

	"github.com/port4k/port4k/pkg/world"
)

// Bucket name constants.
var (
	bucketMeta       = []byte("meta")
	bucketAccounts   = []byte("accounts")
	bucketZones      = []byte("zones")
	bucketRoomStates = []byte("roomstates")
)

var keySchema = []byte("schema")

const schemaVersion = 1

func init() {
	gob.Register(world.RoomState{})
	gob.Register(world.Object{})
	gob.Register(Account{})
	gob.Register(ZoneRecord{})
}

// ZoneRecord describes one durable zone: which blueprint it instantiates
// and whether it is the live zone or a draft.
type ZoneRecord struct {
	ID        uuid.UUID
	Blueprint string
	Kind      world.RuntimeKind
	Created   time.Time
}

// Store wraps a bbolt database.
type Store struct {
	bolt *bbolt.DB
}

// Open opens or creates the database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketAccounts, bucketZones, bucketRoomStates} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keySchema, intToKey(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &Store{bolt: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// --- Zones ---

// PutZone persists a zone record.
func (s *Store) PutZone(z *ZoneRecord) error {
	data, err := encode(z)
	if err != nil {
		return fmt.Errorf("store: encode zone %s: %w", z.ID, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketZones).Put(z.ID[:], data)
	})
}

// DeleteZone removes a zone record and every room state under it.
func (s *Store) DeleteZone(id uuid.UUID) error {
	prefix := roomStatePrefix(id)
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketZones).Delete(id[:]); err != nil {
			return err
		}
		b := tx.Bucket(bucketRoomStates)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadZones reads all zone records.
func (s *Store) LoadZones() ([]ZoneRecord, error) {
	var zones []ZoneRecord
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketZones).ForEach(func(k, v []byte) error {
			var z ZoneRecord
			if err := decode(v, &z); err != nil {
				return fmt.Errorf("decode zone %x: %w", k, err)
			}
			zones = append(zones, z)
			return nil
		})
	})
	return zones, err
}

// --- Room state ---

func roomStatePrefix(zone uuid.UUID) []byte {
	return []byte(zone.String() + "/")
}

func roomStateKey(zone uuid.UUID, room string) []byte {
	return []byte(zone.String() + "/" + room)
}

// PutRoomState persists one room's runtime state (write-through).
func (s *Store) PutRoomState(zone uuid.UUID, room string, st world.RoomState) error {
	data, err := encode(&st)
	if err != nil {
		return fmt.Errorf("store: encode room %s/%s: %w", zone, room, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRoomStates).Put(roomStateKey(zone, room), data)
	})
}

// LoadRoomStates reads every stored room state for one zone.
func (s *Store) LoadRoomStates(zone uuid.UUID) (map[string]world.RoomState, error) {
	prefix := roomStatePrefix(zone)
	out := make(map[string]world.RoomState)
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRoomStates).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var st world.RoomState
			if err := decode(v, &st); err != nil {
				return fmt.Errorf("decode room state %s: %w", string(k), err)
			}
			out[strings.TrimPrefix(string(k), string(prefix))] = st
		}
		return nil
	})
	return out, err
}

// RestoreRuntime loads a zone's stored room states into a runtime.
func (s *Store) RestoreRuntime(rec ZoneRecord, rt *world.Runtime) error {
	states, err := s.LoadRoomStates(rec.ID)
	if err != nil {
		return err
	}
	for room, st := range states {
		rt.Restore(room, st)
	}
	if len(states) > 0 {
		log.Printf("store: restored %d room states for zone %s (%s)", len(states), rec.ID, rec.Kind)
	}
	return nil
}

// Backup writes a hot snapshot of the database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("store: create backup %s: %w", path, err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("store: write backup: %w", err)
		}
		log.Printf("store: backup written to %s", path)
		return nil
	})
}

// HasData reports whether any zone records exist.
func (s *Store) HasData() bool {
	has := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketZones).Stats().KeyN > 0 {
			has = true
		}
		return nil
	})
	return has
}

// --- gob helpers ---

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func intToKey(n int) []byte {
	return []byte(fmt.Sprintf("%d", n))
}
