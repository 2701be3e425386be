package vectorstore

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, dim int) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, dim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, dir
}

func TestAddAndSearchOrdering(t *testing.T) {
	s, _ := openTestStore(t, 4)

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	refs := []ChunkRef{
		{ContractID: 1, ChunkID: 10, ChunkIndex: 0},
		{ContractID: 1, ChunkID: 11, ChunkIndex: 1},
		{ContractID: 2, ChunkID: 20, ChunkIndex: 0},
	}

	ids, err := s.Add(vectors, refs)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[2] != 2 {
		t.Fatalf("expected slot ids 0..2, got %v", ids)
	}

	matches, err := s.Search([]float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ChunkID != 10 {
		t.Errorf("expected chunk 10 first, got %d", matches[0].ChunkID)
	}
	if matches[1].ChunkID != 20 {
		t.Errorf("expected chunk 20 second, got %d", matches[1].ChunkID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Errorf("identical direction should score 1.0, got %f", matches[0].Score)
	}
	if matches[0].Score < matches[1].Score {
		t.Errorf("matches not sorted by descending score: %v", matches)
	}
}

func TestRemoveByContractSkipsOrphans(t *testing.T) {
	s, _ := openTestStore(t, 2)

	_, err := s.Add(
		[][]float32{{1, 0}, {0, 1}, {1, 1}},
		[]ChunkRef{
			{ContractID: 1, ChunkID: 1, ChunkIndex: 0},
			{ContractID: 1, ChunkID: 2, ChunkIndex: 1},
			{ContractID: 2, ChunkID: 3, ChunkIndex: 0},
		},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	removed, err := s.RemoveByContract(1)
	if err != nil {
		t.Fatalf("RemoveByContract: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	// Slots stay allocated, mappings shrink.
	if s.Count() != 3 {
		t.Errorf("expected 3 total slots, got %d", s.Count())
	}
	stats := s.Stats()
	if stats.ActiveVectors != 1 {
		t.Errorf("expected 1 active vector, got %d", stats.ActiveVectors)
	}

	matches, err := s.Search([]float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, m := range matches {
		if m.ContractID == 1 {
			t.Errorf("removed contract still returned: %+v", m)
		}
	}
	if len(matches) != 1 || matches[0].ChunkID != 3 {
		t.Errorf("expected only chunk 3, got %v", matches)
	}
}

func TestPersistenceRoundtrip(t *testing.T) {
	s, dir := openTestStore(t, 3)

	_, err := s.Add(
		[][]float32{{1, 2, 3}, {4, 5, 6}},
		[]ChunkRef{
			{ContractID: 7, ChunkID: 70, ChunkIndex: 0},
			{ContractID: 7, ChunkID: 71, ChunkIndex: 1},
		},
	)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := Open(dir, 3)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 2 {
		t.Fatalf("expected 2 vectors after reload, got %d", reopened.Count())
	}

	// New slots continue after the persisted ones.
	ids, err := reopened.Add([][]float32{{0, 0, 1}}, []ChunkRef{{ContractID: 8, ChunkID: 80, ChunkIndex: 0}})
	if err != nil {
		t.Fatalf("Add after reload: %v", err)
	}
	if ids[0] != 2 {
		t.Errorf("expected slot id 2 after reload, got %d", ids[0])
	}

	matches, err := reopened.Search([]float32{4, 5, 6}, 1)
	if err != nil {
		t.Fatalf("Search after reload: %v", err)
	}
	if len(matches) != 1 || matches[0].ChunkID != 71 {
		t.Errorf("expected chunk 71 as best match, got %v", matches)
	}
}

func TestDimensionMismatch(t *testing.T) {
	s, _ := openTestStore(t, 4)

	_, err := s.Add([][]float32{{1, 2}}, []ChunkRef{{ContractID: 1, ChunkID: 1}})
	if err == nil {
		t.Fatal("expected error for wrong vector dimension")
	}

	_, err = s.Search([]float32{1, 2}, 5)
	if err == nil {
		t.Fatal("expected error for wrong query dimension")
	}
}

func TestClear(t *testing.T) {
	s, _ := openTestStore(t, 2)

	if _, err := s.Add([][]float32{{1, 0}}, []ChunkRef{{ContractID: 1, ChunkID: 1}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("expected empty store after clear, got %d vectors", s.Count())
	}
	matches, err := s.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches after clear, got %v", matches)
	}
}

func TestCorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFileName), []byte("not an index"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	s, err := Open(dir, 4)
	if err != nil {
		t.Fatalf("Open should tolerate corrupt index: %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("expected empty store, got %d vectors", s.Count())
	}
}
