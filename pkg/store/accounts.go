package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrBadPassword     = errors.New("bad password")
)

// Account is one registered player, keyed by lowercase name.
type Account struct {
	Name      string
	Hash      []byte // bcrypt
	Created   time.Time
	LastSeen  time.Time
	Admin     bool
	Balance   int      // coins collected across sessions
	Inventory []string // carried object keys
	Zone      string   // last zone scope
	Room      string   // last room key
}

func accountKey(name string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(name)))
}

// CreateAccount registers a new account with a bcrypt-hashed password.
func (s *Store) CreateAccount(name, password string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("store: empty account name")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("store: hash password: %w", err)
	}
	acct := &Account{
		Name:    name,
		Hash:    hash,
		Created: time.Now().UTC(),
	}
	data, err := encode(acct)
	if err != nil {
		return nil, fmt.Errorf("store: encode account %q: %w", name, err)
	}
	err = s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get(accountKey(name)) != nil {
			return ErrAccountExists
		}
		return b.Put(accountKey(name), data)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// GetAccount looks up an account by name.
func (s *Store) GetAccount(name string) (*Account, error) {
	var acct Account
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAccounts).Get(accountKey(name))
		if v == nil {
			return ErrAccountNotFound
		}
		return decode(v, &acct)
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// Authenticate verifies a name/password pair and stamps LastSeen.
func (s *Store) Authenticate(name, password string) (*Account, error) {
	acct, err := s.GetAccount(name)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(acct.Hash, []byte(password)) != nil {
		return nil, ErrBadPassword
	}
	acct.LastSeen = time.Now().UTC()
	if err := s.PutAccount(acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// PutAccount persists account changes (balance, inventory, position).
func (s *Store) PutAccount(acct *Account) error {
	data, err := encode(acct)
	if err != nil {
		return fmt.Errorf("store: encode account %q: %w", acct.Name, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put(accountKey(acct.Name), data)
	})
}

// SetPassword replaces an account's password hash.
func (s *Store) SetPassword(name, password string) error {
	acct, err := s.GetAccount(name)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("store: hash password: %w", err)
	}
	acct.Hash = hash
	return s.PutAccount(acct)
}

// Accounts lists all account names, lowercase.
func (s *Store) Accounts() ([]string, error) {
	var names []string
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}
