package graph

import (
	"bytes"
	"os"
	"sort"

	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"
)

const eventPrefix = "event"

// wireRecord is the value stored in badger for each event: the wire blocks
// plus the local topological index, which would otherwise be lost across a
// restart.
type wireRecord struct {
	Hashed           HashedData
	Unhashed         UnhashedData
	TopologicalIndex int
}

// BadgerIndex is a persistent ancestry index. It keeps a full InmemIndex for
// queries and writes every accepted event through to a badger database, from
// which the index can be rebuilt at startup.
type BadgerIndex struct {
	*InmemIndex
	db   *badger.DB
	path string

	needBootstrap bool
}

// NewBadgerIndex creates a brand new index with a fresh database.
func NewBadgerIndex(path string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerIndex{
		InmemIndex: NewInmemIndex(),
		db:         handle,
		path:       path,
	}, nil
}

// LoadBadgerIndex opens an existing database and rebuilds the in-memory
// index from it.
func LoadBadgerIndex(path string) (*BadgerIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	index := &BadgerIndex{
		InmemIndex:    NewInmemIndex(),
		db:            handle,
		path:          path,
		needBootstrap: true,
	}

	if err := index.bootstrap(); err != nil {
		handle.Close()
		return nil, err
	}

	return index, nil
}

// LoadOrCreateBadgerIndex tries to load an existing database, and creates a
// new one if that fails.
func LoadOrCreateBadgerIndex(path string) (*BadgerIndex, error) {
	index, err := LoadBadgerIndex(path)
	if err != nil {
		index, err = NewBadgerIndex(path)
		if err != nil {
			return nil, err
		}
	}
	return index, nil
}

// NeedBootstrap returns true if the index was rebuilt from an existing
// database.
func (b *BadgerIndex) NeedBootstrap() bool {
	return b.needBootstrap
}

// Path returns the filepath of the underlying database.
func (b *BadgerIndex) Path() string {
	return b.path
}

// InsertEvent writes the event through to badger after inserting it in the
// in-memory index.
func (b *BadgerIndex) InsertEvent(event *Event) error {
	if err := b.InmemIndex.InsertEvent(event); err != nil {
		return err
	}
	return b.dbSetEvent(event)
}

// Close closes the underlying database.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}

// bootstrap re-inserts all persisted events in topological order, resolving
// parent links as it goes. Events whose parents are missing from the database
// are relinked as parentless, which matches the expiry semantics.
func (b *BadgerIndex) bootstrap() error {
	records := []*wireRecord{}

	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				record := new(wireRecord)
				dec := codec.NewDecoder(bytes.NewBuffer(val), new(codec.CborHandle))
				if err := dec.Decode(record); err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].TopologicalIndex < records[j].TopologicalIndex
	})

	for _, record := range records {
		ev := &Event{
			Hashed:   record.Hashed,
			Unhashed: record.Unhashed,
		}

		var selfParent, otherParent *Event
		if ev.HasSelfParent() {
			selfParent, _ = b.InmemIndex.GetEvent(ev.SelfParentHex())
		}
		if ev.HasOtherParent() {
			otherParent, _ = b.InmemIndex.GetEvent(ev.OtherParentHex())
		}
		ev.SetParents(selfParent, otherParent)

		if err := b.InmemIndex.InsertEvent(ev); err != nil {
			return err
		}
	}

	return nil
}

func (b *BadgerIndex) dbSetEvent(event *Event) error {
	record := wireRecord{
		Hashed:           event.Hashed,
		Unhashed:         event.Unhashed,
		TopologicalIndex: event.topologicalIndex,
	}

	buf := new(bytes.Buffer)
	enc := codec.NewEncoder(buf, new(codec.CborHandle))
	if err := enc.Encode(record); err != nil {
		return err
	}

	key := append([]byte(eventPrefix), []byte(event.Hex())...)

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
}
