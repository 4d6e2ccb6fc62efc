// internal/audit/store.go
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	rec_<index>                         record JSON
//	res_<type>\x00<id>\x00<index>        empty, per-resource index
//	root_<toIndex>                      RootRecord JSON
//	meta_last                           "<index>:<hash>"
const (
	recPrefix  = "rec_"
	resPrefix  = "res_"
	rootPrefix = "root_"
	metaLast   = "meta_last"
)

const defaultBatchSize = 64

var ErrRecordNotFound = errors.New("audit record not found")

// Store is an append-only, hash-chained audit log on LevelDB.
type Store struct {
	mu          sync.Mutex
	db          *leveldb.DB
	batchSize   int
	lastIndex   int64
	lastHash    string
	batchHashes []string
	batchStart  int64
	now         func() time.Time
}

func Open(path string, batchSize int) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return newStore(db, batchSize)
}

// OpenMemory returns a store backed by in-memory LevelDB storage.
func OpenMemory(batchSize int) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return newStore(db, batchSize)
}

func newStore(db *leveldb.DB, batchSize int) (*Store, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	s := &Store{db: db, batchSize: batchSize, now: func() time.Time { return time.Now().UTC() }}
	if err := s.loadState(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func indexKey(prefix string, index int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, index))
}

func resourcePrefix(resourceType, resourceID string) string {
	return resPrefix + resourceType + "\x00" + resourceID + "\x00"
}

func (s *Store) loadState() error {
	v, err := s.db.Get([]byte(metaLast), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	parts := strings.SplitN(string(v), ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("corrupt audit meta %q", v)
	}
	idx, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt audit meta %q: %w", v, err)
	}
	s.lastIndex, s.lastHash = idx, parts[1]

	// Rebuild the open batch from records after the last sealed root.
	var sealed int64
	iter := s.db.NewIterator(util.BytesPrefix([]byte(rootPrefix)), nil)
	if iter.Last() {
		var root RootRecord
		if err := json.Unmarshal(iter.Value(), &root); err == nil {
			sealed = root.ToIndex
		}
	}
	iter.Release()

	for i := sealed + 1; i <= s.lastIndex; i++ {
		rec, err := s.Get(i)
		if err != nil {
			return err
		}
		if len(s.batchHashes) == 0 {
			s.batchStart = i
		}
		s.batchHashes = append(s.batchHashes, rec.Hash)
	}
	return nil
}

// Append chains event onto the log and indexes it by resource.
func (s *Store) Append(event Event) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	index := s.lastIndex + 1
	hash, err := chainHash(s.lastHash, index, event)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Index: index, Event: event, PrevHash: s.lastHash, Hash: hash}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}

	batch := new(leveldb.Batch)
	batch.Put(indexKey(recPrefix, index), data)
	batch.Put(indexKey(resourcePrefix(event.ResourceType, event.ResourceID), index), nil)
	batch.Put([]byte(metaLast), []byte(fmt.Sprintf("%d:%s", index, hash)))

	hashes := append(s.batchHashes, hash)
	start := s.batchStart
	if len(s.batchHashes) == 0 {
		start = index
	}
	sealed := len(hashes) >= s.batchSize
	if sealed {
		root := RootRecord{FromIndex: start, ToIndex: index, RootHash: MerkleRoot(hashes), CreatedAt: s.now()}
		rootData, err := json.Marshal(root)
		if err != nil {
			return Record{}, err
		}
		batch.Put(indexKey(rootPrefix, index), rootData)
	}

	if err := s.db.Write(batch, nil); err != nil {
		return Record{}, fmt.Errorf("append audit record: %w", err)
	}

	s.lastIndex, s.lastHash = index, hash
	if sealed {
		s.batchHashes, s.batchStart = nil, 0
	} else {
		s.batchHashes, s.batchStart = hashes, start
	}
	return rec, nil
}

func chainHash(prevHash string, index int64, event Event) (string, error) {
	payload, err := StableJSON(event)
	if err != nil {
		return "", err
	}
	return hashBytes([]byte(prevHash), []byte(fmt.Sprintf("|%d|", index)), payload), nil
}

func (s *Store) Get(index int64) (Record, error) {
	data, err := s.db.Get(indexKey(recPrefix, index), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode audit record %d: %w", index, err)
	}
	return rec, nil
}

// Trail returns the records of one resource in append order.
func (s *Store) Trail(resourceType, resourceID string) ([]Record, error) {
	prefix := resourcePrefix(resourceType, resourceID)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []Record
	for iter.Next() {
		idx, err := strconv.ParseInt(strings.TrimPrefix(string(iter.Key()), prefix), 10, 64)
		if err != nil {
			continue
		}
		rec, err := s.Get(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// Head returns the index and hash of the newest record.
func (s *Store) Head() (int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex, s.lastHash
}

func (s *Store) LastRoot() (*RootRecord, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(rootPrefix)), nil)
	defer iter.Release()
	if !iter.Last() {
		return nil, iter.Error()
	}
	var root RootRecord
	if err := json.Unmarshal(iter.Value(), &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// Verify walks the whole chain and every sealed root.
func (s *Store) Verify() VerifyReport {
	report := VerifyReport{OK: true}
	fail := func(format string, args ...interface{}) {
		report.OK = false
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}

	roots := map[int64]RootRecord{}
	rootIter := s.db.NewIterator(util.BytesPrefix([]byte(rootPrefix)), nil)
	for rootIter.Next() {
		var root RootRecord
		if err := json.Unmarshal(rootIter.Value(), &root); err != nil {
			fail("decode root: %v", err)
			continue
		}
		roots[root.ToIndex] = root
	}
	rootIter.Release()

	iter := s.db.NewIterator(util.BytesPrefix([]byte(recPrefix)), nil)
	defer iter.Release()

	var expectedPrev string
	var expectedIndex int64
	var batch []string
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			fail("decode record: %v", err)
			continue
		}
		expectedIndex++
		if rec.Index != expectedIndex {
			fail("index mismatch at %d", rec.Index)
		}
		if rec.PrevHash != expectedPrev {
			fail("prev_hash mismatch at %d", rec.Index)
		}
		hash, err := chainHash(rec.PrevHash, rec.Index, rec.Event)
		if err != nil || hash != rec.Hash {
			fail("hash mismatch at %d", rec.Index)
		}
		expectedPrev = rec.Hash
		batch = append(batch, rec.Hash)

		if root, ok := roots[rec.Index]; ok {
			if MerkleRoot(batch) != root.RootHash {
				fail("merkle root mismatch for %d-%d", root.FromIndex, root.ToIndex)
			}
			report.RootsChecked++
			batch = nil
		}
		report.Total++
		report.LastIndex = rec.Index
		report.LastHash = rec.Hash
	}
	if err := iter.Error(); err != nil {
		fail("iterate: %v", err)
	}
	return report
}
