package kvstore

import (
	"bytes"
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// keySep separates the database name from the field inside a Badger
// key. Database names are ASCII and never contain NUL.
const keySep = "\x00"

// BadgerStore is the embedded Store backend. It keeps every database in
// one Badger tree under {db}\x00{field} keys.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the store under dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(db, field string) []byte {
	return []byte(db + keySep + field)
}

func badgerPrefix(db string) []byte {
	return []byte(db + keySep)
}

// HSet sets one field.
func (s *BadgerStore) HSet(ctx context.Context, db, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(db, field), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger hset %s/%s: %w", db, field, err)
	}
	return nil
}

// HMSet sets several fields in one transaction.
func (s *BadgerStore) HMSet(ctx context.Context, db string, fields map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for field, value := range fields {
		if err := wb.Set(badgerKey(db, field), []byte(value)); err != nil {
			return fmt.Errorf("badger hmset %s: %w", db, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger hmset %s: %w", db, err)
	}
	return nil
}

// HGet reads one field.
func (s *BadgerStore) HGet(ctx context.Context, db, field string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(db, field))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("badger hget %s/%s: %w", db, field, err)
	}
	return string(value), nil
}

// HKeys lists the fields of a database by prefix scan.
func (s *BadgerStore) HKeys(ctx context.Context, db string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := badgerPrefix(db)
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			keys = append(keys, string(bytes.TrimPrefix(k, prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger hkeys %s: %w", db, err)
	}
	return keys, nil
}

// HGetAll returns every field/value pair of a database.
func (s *BadgerStore) HGetAll(ctx context.Context, db string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := badgerPrefix(db)
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			field := string(bytes.TrimPrefix(item.Key(), prefix))
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[field] = string(value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger hgetall %s: %w", db, err)
	}
	return out, nil
}

// HExists reports field presence.
func (s *BadgerStore) HExists(ctx context.Context, db, field string) (bool, error) {
	_, err := s.HGet(ctx, db, field)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HDel removes fields. Absent fields are ignored.
func (s *BadgerStore) HDel(ctx context.Context, db string, fields ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, field := range fields {
			if err := txn.Delete(badgerKey(db, field)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger hdel %s: %w", db, err)
	}
	return nil
}

// Del drops whole databases via prefix drop.
func (s *BadgerStore) Del(ctx context.Context, dbs ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, db := range dbs {
		if err := s.db.DropPrefix(badgerPrefix(db)); err != nil {
			return fmt.Errorf("badger del %s: %w", db, err)
		}
	}
	return nil
}

// Flush syncs pending writes to disk.
func (s *BadgerStore) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("badger sync: %w", err)
	}
	return nil
}

// Close closes the underlying Badger tree.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
