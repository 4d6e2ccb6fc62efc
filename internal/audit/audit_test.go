package audit

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, batch int) *Store {
	t.Helper()
	s, err := OpenMemory(batch)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendN(t *testing.T, s *Store, resourceID string, n int) []Record {
	t.Helper()
	var out []Record
	for i := 0; i < n; i++ {
		rec, err := s.Append(Event{
			Action:       "consent.update",
			ResourceType: "record",
			ResourceID:   resourceID,
			ActorOrgID:   "hospital-a",
			Timestamp:    time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			Payload:      map[string]interface{}{"step": i},
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestAppendChainsRecords(t *testing.T) {
	s := newTestStore(t, 4)
	recs := appendN(t, s, "R1", 3)

	assert.Equal(t, int64(1), recs[0].Index)
	assert.Empty(t, recs[0].PrevHash)
	assert.Equal(t, recs[0].Hash, recs[1].PrevHash)
	assert.Equal(t, recs[1].Hash, recs[2].PrevHash)

	idx, hash := s.Head()
	assert.Equal(t, int64(3), idx)
	assert.Equal(t, recs[2].Hash, hash)
}

func TestTrailIsScopedToResource(t *testing.T) {
	s := newTestStore(t, 10)
	appendN(t, s, "R1", 2)
	appendN(t, s, "R10", 3)
	appendN(t, s, "R1", 1)

	trail, err := s.Trail("record", "R1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, int64(1), trail[0].Index)
	assert.Equal(t, int64(6), trail[2].Index)

	other, err := s.Trail("record", "R10")
	require.NoError(t, err)
	assert.Len(t, other, 3)
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := newTestStore(t, 2)
	appendN(t, s, "R1", 5)

	report := s.Verify()
	require.True(t, report.OK, report.Errors)
	assert.Equal(t, int64(5), report.Total)
	assert.Equal(t, 2, report.RootsChecked)

	rec, err := s.Get(3)
	require.NoError(t, err)
	rec.Event.ActorOrgID = "intruder"
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, s.db.Put(indexKey(recPrefix, 3), data, nil))

	report = s.Verify()
	assert.False(t, report.OK)
	assert.Contains(t, report.Errors, "hash mismatch at 3")
}

func TestLastRootCoversSealedBatch(t *testing.T) {
	s := newTestStore(t, 3)
	recs := appendN(t, s, "R1", 4)

	root, err := s.LastRoot()
	require.NoError(t, err)
	require.NotNil(t, root)
	assert.Equal(t, int64(1), root.FromIndex)
	assert.Equal(t, int64(3), root.ToIndex)
	assert.Equal(t, MerkleRoot([]string{recs[0].Hash, recs[1].Hash, recs[2].Hash}), root.RootHash)
}

func TestStableJSONOrdersKeys(t *testing.T) {
	a, err := StableJSON(map[string]interface{}{"b": 1, "a": map[string]interface{}{"z": true, "y": "x"}})
	require.NoError(t, err)
	b, err := StableJSON(map[string]interface{}{"a": map[string]interface{}{"y": "x", "z": true}, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":{"y":"x","z":true},"b":1}`, string(a))
}

func TestMerkleRootOddLeaves(t *testing.T) {
	var hashes []string
	for i := 0; i < 3; i++ {
		hashes = append(hashes, hashBytes([]byte(fmt.Sprint(i))))
	}
	root := MerkleRoot(hashes)
	assert.Len(t, root, 64)
	assert.Equal(t, root, MerkleRoot(hashes))
	assert.NotEqual(t, root, MerkleRoot(hashes[:2]))
	assert.Empty(t, MerkleRoot(nil))
}
