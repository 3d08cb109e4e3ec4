package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/djcass44/all-your-debs/pkg/control"
	"github.com/djcass44/all-your-debs/pkg/sources"
	"github.com/go-logr/logr"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/ugorji/go/codec"
)

const recordPrefix = "pkg/"

// storedRecord is the persisted form of a Record.
type storedRecord struct {
	Distribution string                    `codec:"distribution"`
	Component    string                    `codec:"component"`
	Control      []control.Field           `codec:"control"`
	SourceID     string                    `codec:"sourceId"`
	CandidateID  string                    `codec:"candidateId,omitempty"`
	Revision     string                    `codec:"revision,omitempty"`
	Restore      sources.RestoreDescriptor `codec:"restoreDescriptor"`
}

// LevelDB persists records in a goleveldb database
// using msgpack.
type LevelDB struct {
	db *leveldb.DB
	// mu serialises read-modify-write operations
	mu sync.Mutex
}

func NewLevelDB(ctx context.Context, path string) (*LevelDB, error) {
	logr.FromContextOrDiscard(ctx).V(1).Info("opening database", "path", path)
	db, err := leveldb.OpenFile(path, &opt.Options{
		Filter:                 filter.NewBloomFilter(10),
		OpenFilesCacheCapacity: 256,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func dbKey(k Key) []byte {
	return []byte(recordPrefix + k.String())
}

func encode(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(&storedRecord{
		Distribution: rec.Distribution,
		Component:    rec.Component,
		Control:      rec.Control.Pairs(),
		SourceID:     rec.SourceID,
		CandidateID:  rec.CandidateID,
		Revision:     rec.Revision,
		Restore:      rec.Restore,
	}); err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Record, error) {
	var sr storedRecord
	if err := codec.NewDecoderBytes(data, &codec.MsgpackHandle{}).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &Record{
		Distribution: sr.Distribution,
		Component:    sr.Component,
		Control:      control.FromPairs(sr.Control),
		SourceID:     sr.SourceID,
		CandidateID:  sr.CandidateID,
		Revision:     sr.Revision,
		Restore:      sr.Restore,
	}, nil
}

func (l *LevelDB) get(key Key) (*Record, error) {
	data, err := l.db.Get(dbKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (l *LevelDB) put(rec *Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	return l.db.Put(dbKey(rec.Key()), data, nil)
}

func (l *LevelDB) Register(ctx context.Context, rec *Record) (bool, error) {
	key := rec.Key()
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.get(key)
	switch {
	case err == nil:
		if err := accept(existing, rec); err != nil {
			return false, err
		}
		existing.Restore = rec.Restore
		existing.CandidateID = rec.CandidateID
		existing.Revision = rec.Revision
		logr.FromContextOrDiscard(ctx).V(2).Info("refreshed record", "key", key.String())
		return false, l.put(existing)
	case errors.Is(err, ErrNotFound):
		return true, l.put(rec)
	default:
		return false, err
	}
}

func (l *LevelDB) Refresh(_ context.Context, key Key, sourceID string, rd sources.RestoreDescriptor) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.get(key)
	if err != nil {
		return err
	}
	if existing.SourceID != sourceID {
		return fmt.Errorf("%w: %s is owned by source %s", ErrConflict, key, existing.SourceID)
	}
	existing.Restore = rd
	return l.put(existing)
}

func (l *LevelDB) Get(_ context.Context, key Key) (*Record, error) {
	return l.get(key)
}

func (l *LevelDB) Delete(_ context.Context, key Key, sourceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.get(key)
	if err != nil {
		return err
	}
	if existing.SourceID != sourceID {
		return fmt.Errorf("%w: %s is owned by source %s", ErrConflict, key, existing.SourceID)
	}
	return l.db.Delete(dbKey(key), nil)
}

func (l *LevelDB) List(_ context.Context, distribution, component, arch string) ([]*control.Fields, error) {
	var out []*control.Fields
	err := l.each(recordPrefix+distribution+"/"+component+"/", func(_ []byte, value []byte) (bool, error) {
		rec, err := decode(value)
		if err != nil {
			return true, err
		}
		if rec.Control.Architecture() == arch {
			out = append(out, rec.Control)
		}
		return false, nil
	})
	return out, err
}

func (l *LevelDB) Components(_ context.Context, distribution string) ([]string, error) {
	return l.collect(recordPrefix+distribution+"/", func(k Key) string {
		return k.Component
	})
}

func (l *LevelDB) Architectures(_ context.Context, distribution string) ([]string, error) {
	return l.collect(recordPrefix+distribution+"/", func(k Key) string {
		return k.Architecture
	})
}

func (l *LevelDB) Distributions(context.Context) ([]string, error) {
	return l.collect(recordPrefix, func(k Key) string {
		return k.Distribution
	})
}

func (l *LevelDB) Sources(context.Context) ([]string, error) {
	set := map[string]struct{}{}
	err := l.each(recordPrefix, func(_ []byte, value []byte) (bool, error) {
		rec, err := decode(value)
		if err != nil {
			return true, err
		}
		set[rec.SourceID] = struct{}{}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return sorted(set), nil
}

func (l *LevelDB) Candidates(_ context.Context, sourceID string) (map[string]Registration, error) {
	out := map[string]Registration{}
	err := l.each(recordPrefix, func(_ []byte, value []byte) (bool, error) {
		rec, err := decode(value)
		if err != nil {
			return true, err
		}
		if rec.SourceID == sourceID && rec.CandidateID != "" {
			out[rec.CandidateID] = Registration{Key: rec.Key(), Revision: rec.Revision}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *LevelDB) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := new(leveldb.Batch)
	err := l.each(recordPrefix, func(key []byte, value []byte) (bool, error) {
		rec, err := decode(value)
		if err != nil {
			return true, err
		}
		if rec.SourceID == sourceID {
			batch.Delete(slices.Clone(key))
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if err := l.db.Write(batch, &opt.WriteOptions{}); err != nil {
		return 0, fmt.Errorf("deleting records: %w", err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("deleted records", "source", sourceID, "count", batch.Len())
	return batch.Len(), nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

// each calls fn for every entry under prefix until
// it returns true.
func (l *LevelDB) each(prefix string, fn func(key, value []byte) (bool, error)) error {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		done, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return iter.Error()
}

func (l *LevelDB) collect(prefix string, fn func(k Key) string) ([]string, error) {
	set := map[string]struct{}{}
	err := l.each(prefix, func(_ []byte, value []byte) (bool, error) {
		rec, err := decode(value)
		if err != nil {
			return true, err
		}
		set[fn(rec.Key())] = struct{}{}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return sorted(set), nil
}
