package services

import (
	"context"
	"fmt"
	"strconv"

	"contract-archive-platform/internal/ai"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/internal/logger"
	"contract-archive-platform/internal/vectorstore"
	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// VectorService embeds chunk text and keeps the vector index in step with
// the chunk rows: every embedded chunk carries the slot id it occupies.
type VectorService struct {
	embedder ai.Embedder
	index    *vectorstore.Store
	store    *database.Store
}

func NewVectorService(embedder ai.Embedder, index *vectorstore.Store, store *database.Store) *VectorService {
	return &VectorService{embedder: embedder, index: index, store: store}
}

// VectorizeContract embeds every not-yet-completed chunk of the contract in
// chunk_index order, appends the vectors to the index and stores the slot
// ids back on the chunks. Returns the number of chunks embedded.
func (s *VectorService) VectorizeContract(ctx context.Context, contractID uint) (int, error) {
	chunks, err := s.store.PendingVectorChunks(ctx, contractID)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, utils.E(utils.KindValidation, "没有待处理的分块内容")
	}

	texts := make([]string, len(chunks))
	refs := make([]vectorstore.ChunkRef, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.ContentText
		refs[i] = vectorstore.ChunkRef{
			ContractID: contractID,
			ChunkID:    ch.ID,
			ChunkIndex: ch.ChunkIndex,
		}
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, utils.E(utils.KindUpstream,
			fmt.Sprintf("向量数量(%d)与分块数量(%d)不匹配", len(vectors), len(chunks)))
	}

	slots, err := s.index.Add(vectors, refs)
	if err != nil {
		return 0, err
	}

	chunkIDs := make([]uint, len(chunks))
	vectorIDs := make([]string, len(slots))
	for i := range chunks {
		chunkIDs[i] = chunks[i].ID
		vectorIDs[i] = strconv.FormatInt(slots[i], 10)
	}
	if err := s.store.AssignVectorIDs(ctx, chunkIDs, vectorIDs); err != nil {
		return 0, err
	}

	logger.Info("contract vectorized", "contract_id", contractID, "chunks", len(chunks), "total_vectors", s.index.Count())
	return len(chunks), nil
}

// SearchSimilar embeds the query and returns the topK nearest chunks.
// An empty index yields an empty result, not an error.
func (s *VectorService) SearchSimilar(ctx context.Context, query string, topK int) ([]vectorstore.Match, error) {
	if s.index.Count() == 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, utils.E(utils.KindUpstream, "获取查询文本向量失败")
	}

	return s.index.Search(vectors[0], topK)
}

// RemoveContract drops the contract's slots from the vector mapping and
// resets vector state on the contract and its chunks.
func (s *VectorService) RemoveContract(ctx context.Context, contractID uint) (int, error) {
	removed, err := s.index.RemoveByContract(contractID)
	if err != nil {
		return 0, err
	}
	if err := s.store.ResetVectorState(ctx, contractID); err != nil {
		return removed, err
	}

	pending := models.StatusPending
	if err := s.store.UpdateContractStatus(ctx, contractID, models.ContractStatusUpdate{VectorStatus: &pending}); err != nil {
		return removed, err
	}

	logger.Info("contract vectors removed", "contract_id", contractID, "removed", removed)
	return removed, nil
}

// Stats exposes index totals for the status endpoints.
func (s *VectorService) Stats() vectorstore.Stats {
	return s.index.Stats()
}

// ClearAll wipes every vector and mapping entry from the index and persists
// the empty state. Maintenance only.
func (s *VectorService) ClearAll() error {
	return s.index.Clear()
}
