package database

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// GetConfig loads one system config entry by key.
func (s *Store) GetConfig(ctx context.Context, key string) (*models.SystemConfig, error) {
	var cfg models.SystemConfig
	if err := s.db.WithContext(ctx).Where("config_key = ?", key).First(&cfg).Error; err != nil {
		return nil, notFound(err, "配置项不存在")
	}
	return &cfg, nil
}

// UpsertConfig creates or updates a system config entry.
func (s *Store) UpsertConfig(ctx context.Context, req models.ConfigUpdateRequest) (*models.SystemConfig, error) {
	configType := req.ConfigType
	if configType == "" {
		configType = "string"
	}

	var cfg models.SystemConfig
	err := s.db.WithContext(ctx).Where("config_key = ?", req.ConfigKey).First(&cfg).Error
	switch {
	case err == nil:
		cfg.ConfigValue = req.ConfigValue
		cfg.ConfigType = configType
		if req.Description != "" {
			cfg.Description = req.Description
		}
		if err := s.db.WithContext(ctx).Save(&cfg).Error; err != nil {
			return nil, utils.Wrap(utils.KindIO, "更新配置失败", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		cfg = models.SystemConfig{
			ConfigKey:   req.ConfigKey,
			ConfigValue: req.ConfigValue,
			ConfigType:  configType,
			Description: req.Description,
		}
		if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
			return nil, utils.Wrap(utils.KindIO, "创建配置失败", err)
		}
	default:
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return &cfg, nil
}

// ListConfigs returns all system config entries.
func (s *Store) ListConfigs(ctx context.Context) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.WithContext(ctx).Order("config_key ASC").Find(&configs).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return configs, nil
}

// ResetIndexState puts every contract's index-related statuses back to
// pending and clears chunk vector assignments. Used by maintenance clear-all.
func (s *Store) ResetIndexState(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Contract{}).Where("1 = 1").
			Updates(map[string]interface{}{
				"vector_status":             models.StatusPending,
				"elasticsearch_sync_status": models.StatusPending,
			}).Error; err != nil {
			return utils.Wrap(utils.KindIO, "重置合同状态失败", err)
		}
		if err := tx.Model(&models.ContractContent{}).Where("1 = 1").
			Updates(map[string]interface{}{
				"vector_id":     nil,
				"vector_status": models.StatusPending,
			}).Error; err != nil {
			return utils.Wrap(utils.KindIO, "重置分块状态失败", err)
		}
		return nil
	})
}
