package routes

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"contract-archive-platform/internal/config"
	"contract-archive-platform/internal/database"
	"contract-archive-platform/models"
	"contract-archive-platform/services"
	"contract-archive-platform/utils"
)

// HandleQAAsk answers one question through the hybrid retrieval pipeline.
func HandleQAAsk(cfg *config.Config, qa *services.QAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.QARequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "问题不能为空", nil)
			return
		}

		data, err := qa.Ask(c.Request.Context(), &req)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("问答成功", data))
	}
}

// HandleQASessions lists sessions ordered by most recent turn.
func HandleQASessions(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, size := pageParams(c, "page_size")

		sessions, total, err := store.ListSessions(c.Request.Context(), page, size)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}
		if sessions == nil {
			sessions = []models.SessionSummary{}
		}

		c.JSON(http.StatusOK, models.OK("获取会话列表成功", models.SessionListData{
			Sessions:   sessions,
			Pagination: models.NewPagination(page, size, total),
		}))
	}
}

// HandleQASessionHistory returns every turn of one session in message order.
func HandleQASessionHistory(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sid")

		messages, err := store.SessionMessages(c.Request.Context(), sessionID)
		if err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		responses := make([]models.QAMessageResponse, len(messages))
		for i, m := range messages {
			responses[i] = models.QAMessageResponse{
				ID:              m.ID,
				SessionID:       m.SessionID,
				MessageOrder:    m.MessageOrder,
				Question:        m.Question,
				Answer:          m.Answer,
				SourceContracts: m.SourceContracts,
				SourceChunks:    m.SourceChunks,
				SearchMethod:    m.SearchMethod,
				ResponseTimeMs:  m.ResponseTimeMs,
				UserFeedback:    m.UserFeedback,
				CreatedAt:       m.CreatedAt,
			}
		}

		c.JSON(http.StatusOK, models.OK("获取会话历史成功", gin.H{
			"session_id": sessionID,
			"messages":   responses,
		}))
	}
}

// HandleQAFeedback records user feedback on one turn.
func HandleQAFeedback(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sid")
		messageID, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			utils.RespondWithBadRequest(c, "无效的消息ID", nil)
			return
		}

		var req models.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "反馈内容不能为空", nil)
			return
		}
		if req.Feedback != models.FeedbackHelpful && req.Feedback != models.FeedbackNotHelpful {
			utils.RespondWithBadRequest(c, "无效的反馈类型", nil)
			return
		}

		if err := store.SetFeedback(c.Request.Context(), sessionID, uint(messageID), req.Feedback); err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("反馈提交成功", nil))
	}
}

// HandleQADeleteSession removes one session and all of its turns.
func HandleQADeleteSession(cfg *config.Config, store *database.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sid")

		if err := store.DeleteSession(c.Request.Context(), sessionID); err != nil {
			utils.RespondWithAppError(c, err, cfg.Debug)
			return
		}

		c.JSON(http.StatusOK, models.OK("会话删除成功", nil))
	}
}
