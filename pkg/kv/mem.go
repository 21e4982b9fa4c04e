package kv

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// setSep joins a set name and a member into one key. NUL never appears in
// chat ids or set names, so the join is unambiguous.
const setSep = "\x00"

// Mem implements Backend entirely in-process using BadgerDB in memory
// mode. It is the fallback tier the Facade degrades to when Redis is
// unreachable. TTL expiry is handled by badger on read; there is no sweep.
type Mem struct {
	db       *badger.DB
	closed   bool
	closedMu sync.RWMutex
}

// NewMem opens an in-memory fallback store.
func NewMem() (*Mem, error) {
	opts := badger.DefaultOptions("")
	opts.InMemory = true
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger failed: %w", err)
	}
	return &Mem{db: db}, nil
}

func (m *Mem) Close() error {
	m.closedMu.Lock()
	defer m.closedMu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func (m *Mem) guard() (func(), error) {
	m.closedMu.RLock()
	if m.closed {
		m.closedMu.RUnlock()
		return nil, fmt.Errorf("fallback store is closed")
	}
	return m.closedMu.RUnlock, nil
}

func (m *Mem) Get(key string) (string, bool, error) {
	done, err := m.guard()
	if err != nil {
		return "", false, err
	}
	defer done()

	var result string
	found := false
	err = m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		result = string(val)
		found = true
		return nil
	})
	return result, found, err
}

func (m *Mem) SetWithTTL(key, value string, ttl time.Duration) error {
	done, err := m.guard()
	if err != nil {
		return err
	}
	defer done()

	return m.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte(value))
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (m *Mem) Delete(key string) error {
	done, err := m.guard()
	if err != nil {
		return err
	}
	defer done()

	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (m *Mem) AddToSet(set, member string) error {
	done, err := m.guard()
	if err != nil {
		return err
	}
	defer done()

	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(set+setSep+member), []byte{1})
	})
}

func (m *Mem) RemoveFromSet(set, member string) error {
	done, err := m.guard()
	if err != nil {
		return err
	}
	defer done()

	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(set + setSep + member))
	})
}

func (m *Mem) Members(set string) ([]string, error) {
	done, err := m.guard()
	if err != nil {
		return nil, err
	}
	defer done()

	prefix := []byte(set + setSep)
	var members []string
	err = m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			members = append(members, strings.TrimPrefix(key, set+setSep))
		}
		return nil
	})
	return members, err
}

func (m *Mem) Ping() error {
	done, err := m.guard()
	if err != nil {
		return err
	}
	done()
	return nil
}
