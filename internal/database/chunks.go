package database

import (
	"context"

	"gorm.io/gorm"

	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// ReplaceChunks drops all chunks of a contract and inserts the new set.
// Insertion happens in chunk_index order so a mid-stream failure leaves a
// clean prefix for the re-run to replace.
func (s *Store) ReplaceChunks(ctx context.Context, contractID uint, chunks []models.ContractContent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("contract_id = ?", contractID).Delete(&models.ContractContent{}).Error; err != nil {
			return utils.Wrap(utils.KindIO, "删除旧分块失败", err)
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(chunks, 100).Error; err != nil {
			return utils.Wrap(utils.KindIO, "保存分块失败", err)
		}
		return nil
	})
}

// ListChunks returns all chunks of a contract in chunk_index order.
func (s *Store) ListChunks(ctx context.Context, contractID uint) ([]models.ContractContent, error) {
	var chunks []models.ContractContent
	if err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return chunks, nil
}

// PageChunks returns one page of chunks, optionally filtered by chunk type.
func (s *Store) PageChunks(ctx context.Context, contractID uint, page, size int, chunkType string) ([]models.ContractContent, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ContractContent{}).Where("contract_id = ?", contractID)
	if chunkType != "" {
		query = query.Where("chunk_type = ?", chunkType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	var chunks []models.ContractContent
	if err := query.
		Order("chunk_index ASC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&chunks).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return chunks, total, nil
}

// ChunksByIDs loads chunks by primary key, preserving no particular order.
func (s *Store) ChunksByIDs(ctx context.Context, ids []uint) ([]models.ContractContent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var chunks []models.ContractContent
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&chunks).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return chunks, nil
}

// PendingVectorChunks returns the chunks of a contract that still need
// embedding, in chunk_index order.
func (s *Store) PendingVectorChunks(ctx context.Context, contractID uint) ([]models.ContractContent, error) {
	var chunks []models.ContractContent
	if err := s.db.WithContext(ctx).
		Where("contract_id = ? AND vector_status <> ?", contractID, models.StatusCompleted).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return chunks, nil
}

// AssignVectorIDs stores the vector slot id on each chunk and marks it completed.
// The two slices are parallel.
func (s *Store) AssignVectorIDs(ctx context.Context, chunkIDs []uint, vectorIDs []string) error {
	if len(chunkIDs) != len(vectorIDs) {
		return utils.E(utils.KindInternal, "分块与向量数量不一致")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, chunkID := range chunkIDs {
			if err := tx.Model(&models.ContractContent{}).
				Where("id = ?", chunkID).
				Updates(map[string]interface{}{
					"vector_id":     vectorIDs[i],
					"vector_status": models.StatusCompleted,
				}).Error; err != nil {
				return utils.Wrap(utils.KindIO, "更新向量编号失败", err)
			}
		}
		return nil
	})
}

// ResetVectorState clears vector ids so the vector stage can run from scratch.
// A zero contractID resets every chunk.
func (s *Store) ResetVectorState(ctx context.Context, contractID uint) error {
	query := s.db.WithContext(ctx).Model(&models.ContractContent{})
	if contractID != 0 {
		query = query.Where("contract_id = ?", contractID)
	} else {
		query = query.Where("1 = 1")
	}
	if err := query.Updates(map[string]interface{}{
		"vector_id":     nil,
		"vector_status": models.StatusPending,
	}).Error; err != nil {
		return utils.Wrap(utils.KindIO, "重置向量状态失败", err)
	}
	return nil
}

// CountChunks returns the number of chunks stored for a contract.
func (s *Store) CountChunks(ctx context.Context, contractID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ContractContent{}).
		Where("contract_id = ?", contractID).Count(&count).Error; err != nil {
		return 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return count, nil
}

// SearchChunksLike is the SQL fallback for content search when the full-text
// index is unavailable. Matches are substring based.
func (s *Store) SearchChunksLike(ctx context.Context, contractID uint, q string, page, size int) ([]models.ContractContent, int64, error) {
	pattern := "%" + q + "%"
	query := s.db.WithContext(ctx).Model(&models.ContractContent{}).
		Where("content_text LIKE ?", pattern)
	if contractID != 0 {
		query = query.Where("contract_id = ?", contractID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	var chunks []models.ContractContent
	if err := query.
		Order("contract_id ASC, chunk_index ASC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&chunks).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return chunks, total, nil
}
