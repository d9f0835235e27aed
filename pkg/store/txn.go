package store

import (
	"fmt"

	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"

	"github.com/port4k/port4k/pkg/world"
)

// Txn stages writes produced by one command so they hit the database in a
// single atomic transaction at commit time. If the command fails before
// Commit, the staged writes are simply discarded.
type Txn struct {
	store   *Store
	rooms   []stagedRoom
	accts   []*Account
	zones   []*ZoneRecord
	deletes []uuid.UUID
}

type stagedRoom struct {
	zone uuid.UUID
	room string
	st   world.RoomState
}

// Begin starts an empty staged transaction.
func (s *Store) Begin() *Txn {
	return &Txn{store: s}
}

// StageRoomState queues one room's full post-apply state.
func (t *Txn) StageRoomState(zone uuid.UUID, room string, st world.RoomState) {
	t.rooms = append(t.rooms, stagedRoom{zone: zone, room: room, st: st})
}

// StageAccount queues an account update (balance, inventory, position).
func (t *Txn) StageAccount(acct *Account) {
	t.accts = append(t.accts, acct)
}

// StageZone queues a zone record write.
func (t *Txn) StageZone(z *ZoneRecord) {
	t.zones = append(t.zones, z)
}

// StageZoneDelete queues removal of a zone record and its room states.
func (t *Txn) StageZoneDelete(id uuid.UUID) {
	t.deletes = append(t.deletes, id)
}

// Empty reports whether nothing has been staged.
func (t *Txn) Empty() bool {
	return len(t.rooms) == 0 && len(t.accts) == 0 && len(t.zones) == 0 && len(t.deletes) == 0
}

// Commit writes everything staged in one bbolt update. On error nothing is
// persisted; the transaction may not be reused afterwards.
func (t *Txn) Commit() error {
	if t.Empty() {
		return nil
	}
	return t.store.bolt.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(bucketRoomStates)
		for _, sr := range t.rooms {
			data, err := encode(&sr.st)
			if err != nil {
				return fmt.Errorf("store: encode room %s/%s: %w", sr.zone, sr.room, err)
			}
			if err := rb.Put(roomStateKey(sr.zone, sr.room), data); err != nil {
				return err
			}
		}
		ab := tx.Bucket(bucketAccounts)
		for _, acct := range t.accts {
			data, err := encode(acct)
			if err != nil {
				return fmt.Errorf("store: encode account %q: %w", acct.Name, err)
			}
			if err := ab.Put(accountKey(acct.Name), data); err != nil {
				return err
			}
		}
		zb := tx.Bucket(bucketZones)
		for _, z := range t.zones {
			data, err := encode(z)
			if err != nil {
				return fmt.Errorf("store: encode zone %s: %w", z.ID, err)
			}
			if err := zb.Put(z.ID[:], data); err != nil {
				return err
			}
		}
		for _, id := range t.deletes {
			if err := zb.Delete(id[:]); err != nil {
				return err
			}
		}
		return nil
	})
}
