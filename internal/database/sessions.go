package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"contract-archive-platform/models"
	"contract-archive-platform/utils"
)

// EnsureSession loads the session header row, creating it with the given
// title when absent. The title is never overwritten.
func (s *Store) EnsureSession(ctx context.Context, sessionID, title string) (*models.QASession, error) {
	var session models.QASession
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	session = models.QASession{SessionID: sessionID, SessionTitle: title}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "创建会话失败", err)
	}
	return &session, nil
}

// NextMessageOrder returns count(turns)+1 for the session.
func (s *Store) NextMessageOrder(ctx context.Context, sessionID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.QAMessage{}).
		Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return int(count) + 1, nil
}

// CreateMessage persists one turn and bumps the session header's updated_at
// so the session list can order by recent activity.
func (s *Store) CreateMessage(ctx context.Context, m *models.QAMessage) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return utils.Wrap(utils.KindIO, "保存问答记录失败", err)
		}
		if err := tx.Model(&models.QASession{}).
			Where("session_id = ?", m.SessionID).
			Update("updated_at", time.Now()).Error; err != nil {
			return utils.Wrap(utils.KindIO, "更新会话失败", err)
		}
		return nil
	})
}

// ListSessions returns one page of session summaries ordered by most recent turn.
func (s *Store) ListSessions(ctx context.Context, page, size int) ([]models.SessionSummary, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.QASession{}).Count(&total).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	var summaries []models.SessionSummary
	err := s.db.WithContext(ctx).
		Table("qa_sessions").
		Select(`qa_sessions.session_id,
			qa_sessions.session_title,
			qa_sessions.created_at,
			COUNT(qa_messages.id) AS message_count,
			COALESCE(MAX(qa_messages.created_at), qa_sessions.created_at) AS last_message_time`).
		Joins("LEFT JOIN qa_messages ON qa_messages.session_id = qa_sessions.session_id").
		Group("qa_sessions.id, qa_sessions.session_id, qa_sessions.session_title, qa_sessions.created_at").
		Order("last_message_time DESC").
		Offset((page - 1) * size).
		Limit(size).
		Scan(&summaries).Error
	if err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return summaries, total, nil
}

// SessionMessages returns all turns of a session ordered by message_order.
func (s *Store) SessionMessages(ctx context.Context, sessionID string) ([]models.QAMessage, error) {
	var session models.QASession
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error; err != nil {
		return nil, notFound(err, "会话不存在")
	}

	var messages []models.QAMessage
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("message_order ASC").
		Find(&messages).Error; err != nil {
		return nil, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return messages, nil
}

// SetFeedback records user feedback on one turn.
func (s *Store) SetFeedback(ctx context.Context, sessionID string, messageID uint, feedback string) error {
	res := s.db.WithContext(ctx).Model(&models.QAMessage{}).
		Where("id = ? AND session_id = ?", messageID, sessionID).
		Update("user_feedback", feedback)
	if res.Error != nil {
		return utils.Wrap(utils.KindIO, "保存反馈失败", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.E(utils.KindNotFound, "消息不存在")
	}
	return nil
}

// DeleteSession removes the header row and all turns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("session_id = ?", sessionID).Delete(&models.QASession{})
		if res.Error != nil {
			return utils.Wrap(utils.KindIO, "删除会话失败", res.Error)
		}
		if res.RowsAffected == 0 {
			return utils.E(utils.KindNotFound, "会话不存在")
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.QAMessage{}).Error; err != nil {
			return utils.Wrap(utils.KindIO, "删除会话消息失败", err)
		}
		return nil
	})
}

// CreateSearchLog records one retrieval request.
func (s *Store) CreateSearchLog(ctx context.Context, l *models.SearchLog) error {
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return utils.Wrap(utils.KindIO, "保存检索日志失败", err)
	}
	return nil
}

// ListSearchLogs returns one page of search logs, newest first.
func (s *Store) ListSearchLogs(ctx context.Context, page, size int) ([]models.SearchLog, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.SearchLog{}).Count(&total).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}

	var logs []models.SearchLog
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&logs).Error; err != nil {
		return nil, 0, utils.Wrap(utils.KindIO, "数据库查询失败", err)
	}
	return logs, total, nil
}
