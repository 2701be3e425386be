package vectorstore

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"contract-archive-platform/internal/logger"
	"contract-archive-platform/utils"
)

const (
	indexFileName   = "contract_vectors.index"
	mappingFileName = "vector_mapping.json"

	indexMagic   = "CAVI"
	indexVersion = 1
)

// ChunkRef ties an index slot back to its database chunk.
type ChunkRef struct {
	ContractID uint `json:"contract_id"`
	ChunkID    uint `json:"chunk_id"`
	ChunkIndex int  `json:"chunk_index"`
}

// Match is one semantic search hit.
type Match struct {
	ChunkRef
	SlotID int64   `json:"vector_id"`
	Score  float64 `json:"similarity"`
}

// Stats summarizes index state for status endpoints.
type Stats struct {
	TotalVectors  int    `json:"total_vectors"`
	ActiveVectors int    `json:"active_vectors"`
	Dimension     int    `json:"dimension"`
	IndexPath     string `json:"index_path"`
}

// Store is a flat inner-product index over L2-normalized vectors, persisted
// as a binary vector file plus a JSON slot-to-chunk mapping. Slots are
// append-only; removal drops the mapping entry and the orphaned slot is
// skipped during search.
type Store struct {
	mu      sync.RWMutex
	dir     string
	dim     int
	vectors []float32 // flat row-major, count*dim
	count   int
	mapping map[string]ChunkRef
}

// Open loads the index directory, creating it when absent. A corrupted or
// dimension-mismatched index file is discarded and the store starts empty
// rather than failing startup.
func Open(dir string, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, utils.E(utils.KindValidation, fmt.Sprintf("向量维度无效: %d", dim))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, utils.Wrap(utils.KindIO, "创建向量索引目录失败", err)
	}

	s := &Store{
		dir:     dir,
		dim:     dim,
		mapping: make(map[string]ChunkRef),
	}

	if err := s.loadIndex(); err != nil {
		logger.Warn("vector index unreadable, starting empty", "path", s.indexPath(), "error", err)
		s.vectors = nil
		s.count = 0
	}
	if err := s.loadMapping(); err != nil {
		logger.Warn("vector mapping unreadable, starting empty", "path", s.mappingPath(), "error", err)
		s.mapping = make(map[string]ChunkRef)
	}

	logger.Info("vector store opened", "dimension", dim, "vectors", s.count, "active", len(s.mapping))
	return s, nil
}

func (s *Store) indexPath() string   { return filepath.Join(s.dir, indexFileName) }
func (s *Store) mappingPath() string { return filepath.Join(s.dir, mappingFileName) }

// Dimension returns the configured vector width.
func (s *Store) Dimension() int { return s.dim }

// Count returns the number of slots in the index, including orphans.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Stats reports index totals for the status endpoints.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		TotalVectors:  s.count,
		ActiveVectors: len(s.mapping),
		Dimension:     s.dim,
		IndexPath:     s.indexPath(),
	}
}

// Add appends vectors with their chunk references and returns the assigned
// slot ids. Vectors are L2-normalized so inner product equals cosine
// similarity. Both files are persisted before returning.
func (s *Store) Add(vectors [][]float32, refs []ChunkRef) ([]int64, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	if len(vectors) != len(refs) {
		return nil, utils.E(utils.KindValidation, fmt.Sprintf("向量与分块数量不一致: %d != %d", len(vectors), len(refs)))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return nil, utils.E(utils.KindValidation, fmt.Sprintf("向量维度不匹配: 第%d个向量维度为%d, 期望%d", i, len(v), s.dim))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, len(vectors))
	start := s.count
	for i, v := range vectors {
		row := make([]float32, s.dim)
		copy(row, v)
		normalize(row)
		s.vectors = append(s.vectors, row...)
		id := int64(start + i)
		ids[i] = id
		s.mapping[strconv.FormatInt(id, 10)] = refs[i]
	}
	s.count += len(vectors)

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Search returns the topK most similar active slots for the query vector,
// ordered by descending score. Orphaned slots are skipped.
func (s *Store) Search(query []float32, topK int) ([]Match, error) {
	if len(query) != s.dim {
		return nil, utils.E(utils.KindValidation, fmt.Sprintf("查询向量维度不匹配: %d != %d", len(query), s.dim))
	}
	if topK <= 0 {
		return nil, nil
	}

	q := make([]float32, s.dim)
	copy(q, query)
	normalize(q)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]Match, 0, len(s.mapping))
	for slot := 0; slot < s.count; slot++ {
		ref, ok := s.mapping[strconv.Itoa(slot)]
		if !ok {
			continue
		}
		row := s.vectors[slot*s.dim : (slot+1)*s.dim]
		var score float64
		for i, x := range row {
			score += float64(x) * float64(q[i])
		}
		matches = append(matches, Match{ChunkRef: ref, SlotID: int64(slot), Score: score})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// RemoveByContract drops every mapping entry of the contract and persists
// the mapping. Vector rows stay behind as orphans until a full rebuild.
func (s *Store) RemoveByContract(contractID uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, ref := range s.mapping {
		if ref.ContractID == contractID {
			delete(s.mapping, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persistMappingLocked(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Clear empties the index and the mapping, for maintenance resets.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vectors = nil
	s.count = 0
	s.mapping = make(map[string]ChunkRef)
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	if err := s.persistIndexLocked(); err != nil {
		return err
	}
	return s.persistMappingLocked()
}

func (s *Store) persistIndexLocked() error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-index-*")
	if err != nil {
		return utils.Wrap(utils.KindIO, "保存向量索引失败", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	writeErr := func() error {
		if _, err := w.WriteString(indexMagic); err != nil {
			return err
		}
		header := []uint32{indexVersion, uint32(s.dim), uint32(s.count)}
		for _, h := range header {
			if err := binary.Write(w, binary.LittleEndian, h); err != nil {
				return err
			}
		}
		return binary.Write(w, binary.LittleEndian, s.vectors)
	}()
	if writeErr == nil {
		writeErr = w.Flush()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return utils.Wrap(utils.KindIO, "保存向量索引失败", writeErr)
	}
	if err := os.Rename(tmpName, s.indexPath()); err != nil {
		os.Remove(tmpName)
		return utils.Wrap(utils.KindIO, "保存向量索引失败", err)
	}
	return nil
}

func (s *Store) persistMappingLocked() error {
	data, err := json.MarshalIndent(s.mapping, "", "  ")
	if err != nil {
		return utils.Wrap(utils.KindInternal, "序列化向量映射失败", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-mapping-*")
	if err != nil {
		return utils.Wrap(utils.KindIO, "保存向量映射失败", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return utils.Wrap(utils.KindIO, "保存向量映射失败", writeErr)
	}
	if err := os.Rename(tmpName, s.mappingPath()); err != nil {
		os.Remove(tmpName)
		return utils.Wrap(utils.KindIO, "保存向量映射失败", err)
	}
	return nil
}

func (s *Store) loadIndex() error {
	f, err := os.Open(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(indexMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != indexMagic {
		return fmt.Errorf("bad magic %q", magic)
	}
	var version, dim, count uint32
	for _, dst := range []*uint32{&version, &dim, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return err
		}
	}
	if version != indexVersion {
		return fmt.Errorf("unsupported index version %d", version)
	}
	if int(dim) != s.dim {
		return fmt.Errorf("index dimension %d does not match configured %d", dim, s.dim)
	}

	vectors := make([]float32, int(count)*s.dim)
	if err := binary.Read(r, binary.LittleEndian, vectors); err != nil {
		return err
	}
	s.vectors = vectors
	s.count = int(count)
	return nil
}

func (s *Store) loadMapping() error {
	data, err := os.ReadFile(s.mappingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	mapping := make(map[string]ChunkRef)
	if err := json.Unmarshal(data, &mapping); err != nil {
		return err
	}
	s.mapping = mapping
	return nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
