package database

import (
	"errors"

	"gorm.io/gorm"

	"contract-archive-platform/utils"
)

// Store bundles all persistence operations over one gorm pool.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB { return s.db }

// notFound converts gorm's sentinel into the not_found error kind.
func notFound(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.E(utils.KindNotFound, message)
	}
	return utils.Wrap(utils.KindIO, "数据库查询失败", err)
}
