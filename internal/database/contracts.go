package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// CreateContract inserts a new contract row.
func (s *Store) CreateContract(ctx context.Context, c *models.Contract) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return utils.Wrap(utils.KindIO, "创建合同记录失败", err)
	}
	return nil
}

// GetContract loads a contract by primary key.
func (s *Store) GetContract(ctx context.Context, id uint) (*models.Contract, error) {
	var c models.Contract
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err, "合同不存在")
	}
	return &c, nil
}

// GetContractByNumber loads a contract by its business key.
func (s *Store) GetContractByNumber(ctx context.Context, number string) (*models.Contract, error) {
	var c models.Contract
	if err := s.db.WithContext(ctx).Where("contract_number = ?", number).First(&c).Error; err != nil {
		return nil, notFound(err, "合同不存在")
	}
	return &c, nil
}

// ContractNumberExists reports whether the business key is already taken.
func (s *Store) ContractNumberExists(ctx context.Context, number string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Contract{}).
		Where("contract_number = ?", number).Count(&count).Error; err != nil {
		return false, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return count > 0, nil
}

// ListContracts returns one page ordered by created_at desc plus the total count.
func (s *Store) ListContracts(ctx context.Context, page, size int) ([]models.Contract, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Contract{}).Count(&total).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	var contracts []models.Contract
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&contracts).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return contracts, total, nil
}

// AllContracts returns every contract ordered by id, for export and sync-all.
func (s *Store) AllContracts(ctx context.Context) ([]models.Contract, error) {
	var contracts []models.Contract
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&contracts).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return contracts, nil
}

// ContractsByIDs loads contracts by primary key in one query.
func (s *Store) ContractsByIDs(ctx context.Context, ids []uint) ([]models.Contract, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var contracts []models.Contract
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&contracts).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return contracts, nil
}

// UpdateContractStatus applies the non-nil fields of upd to the contract row.
func (s *Store) UpdateContractStatus(ctx context.Context, id uint, upd models.ContractStatusUpdate) error {
	fields := map[string]interface{}{}
	if upd.OCRStatus != nil {
		fields["ocr_status"] = *upd.OCRStatus
	}
	if upd.ContentStatus != nil {
		fields["content_status"] = *upd.ContentStatus
	}
	if upd.VectorStatus != nil {
		fields["vector_status"] = *upd.VectorStatus
	}
	if upd.ElasticsearchSyncStatus != nil {
		fields["elasticsearch_sync_status"] = *upd.ElasticsearchSyncStatus
	}
	if upd.HTMLContentPath != nil {
		fields["html_content_path"] = *upd.HTMLContentPath
	}
	if upd.TextContentPath != nil {
		fields["text_content_path"] = *upd.TextContentPath
	}
	if upd.PageCount != nil {
		fields["page_count"] = *upd.PageCount
	}
	if upd.Summary != nil {
		fields["summary"] = *upd.Summary
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&models.Contract{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return utils.Wrap(utils.KindIO, "更新合同状态失败", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.E(utils.KindNotFound, "合同不存在")
	}
	return nil
}

// DeleteContract removes the contract row and all of its chunks.
func (s *Store) DeleteContract(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("contract_id = ?", id).Delete(&models.ContractContent{}).Error; err != nil {
			return utils.Wrap(utils.KindIO, "删除合同分块失败", err)
		}
		res := tx.Delete(&models.Contract{}, id)
		if res.Error != nil {
			return utils.Wrap(utils.KindIO, "删除合同记录失败", res.Error)
		}
		if res.RowsAffected == 0 {
			return utils.E(utils.KindNotFound, "合同不存在")
		}
		return nil
	})
}

// Statistics aggregates corpus-wide counters.
func (s *Store) Statistics(ctx context.Context) (*models.ContractStatistics, error) {
	stats := &models.ContractStatistics{
		ByOCRStatus:    map[string]int64{},
		ByVectorStatus: map[string]int64{},
		BySyncStatus:   map[string]int64{},
		ByType:         map[string]int64{},
	}

	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Contract{}).Count(&stats.TotalContracts).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	if err := db.Model(&models.ContractContent{}).Count(&stats.TotalChunks).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	groupInto := func(column string, dst map[string]int64) error {
		var rows []statusCount
		if err := db.Model(&models.Contract{}).
			Select(fmt.Sprintf("%s AS status, COUNT(*) AS count", column)).
			Group(column).
			Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			dst[r.Status] = r.Count
		}
		return nil
	}
	if err := groupInto("ocr_status", stats.ByOCRStatus); err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	if err := groupInto("vector_status", stats.ByVectorStatus); err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	if err := groupInto("elasticsearch_sync_status", stats.BySyncStatus); err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	var typeRows []struct {
		ContractType *string
		Count        int64
	}
	if err := db.Model(&models.Contract{}).
		Select("contract_type, COUNT(*) AS count").
		Group("contract_type").
		Scan(&typeRows).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	for _, r := range typeRows {
		key := "未分类"
		if r.ContractType != nil && *r.ContractType != "" {
			key = *r.ContractType
		}
		stats.ByType[key] = r.Count
	}

	var sizeSum struct{ Total int64 }
	if err := db.Model(&models.Contract{}).
		Select("COALESCE(SUM(file_size), 0) AS total").
		Scan(&sizeSum).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	stats.TotalFileSize = sizeSum.Total

	return stats, nil
}

// ProcessingContracts finds contracts with any stage stuck in processing.
// Used on worker startup to resume interrupted pipelines.
func (s *Store) ProcessingContracts(ctx context.Context) ([]models.Contract, error) {
	var contracts []models.Contract
	if err := s.db.WithContext(ctx).
		Where("ocr_status = ? OR content_status = ? OR vector_status = ? OR elasticsearch_sync_status = ?",
			models.StatusProcessing, models.StatusProcessing, models.StatusProcessing, models.StatusProcessing).
		Find(&contracts).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return contracts, nil
}

// FailStaleProcessing marks stages stuck in processing longer than maxAge as
// failed. Returns the number of affected rows.
func (s *Store) FailStaleProcessing(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	var affected int64
	for _, column := range []string{"ocr_status", "content_status", "vector_status", "elasticsearch_sync_status"} {
		res := s.db.WithContext(ctx).Model(&models.Contract{}).
			Where(column+" = ? AND updated_at < ?", models.StatusProcessing, cutoff).
			Update(column, models.StatusFailed)
		if res.Error != nil {
			return affected, utils.Wrap(utils.KindIO, "更新合同状态失败", res.Error)
		}
		affected += res.RowsAffected
	}
	return affected, nil
}
