package httptransport

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/middleware"
	"msgdash/backend/internal/service"
)

type createMessageRequest struct {
	Content       string     `json:"content"`
	Recipients    []string   `json:"recipients"`
	ScheduledTime *time.Time `json:"scheduledTime"`
}

type updateMessageRequest struct {
	Content       *string    `json:"content"`
	Recipients    []string   `json:"recipients"`
	Status        *string    `json:"status"`
	ScheduledTime *time.Time `json:"scheduledTime"`
	SentTime      *time.Time `json:"sentTime"`
}

// createMessage godoc
// @Summary 创建消息
// @Description 立即发送或定时发送一条消息，Idempotency-Key 相同的重复请求返回同一条消息
// @Tags Messages
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "幂等键"
// @Param request body createMessageRequest true "消息参数"
// @Success 201 {object} Response{data=domain.Message}
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /v1/messages [post]
func (h *Handler) createMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	message, err := h.messages.Create(c.Request.Context(), service.CreateMessageInput{
		OwnerID:        middleware.OwnerID(c),
		Content:        req.Content,
		Recipients:     req.Recipients,
		ScheduledTime:  req.ScheduledTime,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	Created(c, message)
}

// listMessages godoc
// @Summary 获取消息列表
// @Description 返回当前账号的消息，最新在前，附带回复数
// @Tags Messages
// @Produce json
// @Success 200 {object} Response{data=ListResponse{items=[]domain.Message}}
// @Router /v1/messages [get]
func (h *Handler) listMessages(c *gin.Context) {
	messages, err := h.messages.List(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	List(c, messages)
}

// getMessage godoc
// @Summary 获取消息详情
// @Tags Messages
// @Produce json
// @Param id path string true "消息ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [get]
func (h *Handler) getMessage(c *gin.Context) {
	message, ok := h.ownedMessage(c)
	if !ok {
		return
	}
	Success(c, message)
}

// updateMessage godoc
// @Summary 修改消息
// @Description 只修改请求中出现的字段
// @Tags Messages
// @Accept json
// @Produce json
// @Param id path string true "消息ID"
// @Param request body updateMessageRequest true "修改内容"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [patch]
func (h *Handler) updateMessage(c *gin.Context) {
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if _, ok := h.ownedMessage(c); !ok {
		return
	}

	input := service.UpdateMessageInput{
		Content:       req.Content,
		Recipients:    req.Recipients,
		ScheduledTime: req.ScheduledTime,
		SentTime:      req.SentTime,
	}
	if req.Status != nil {
		status := domain.MessageStatus(*req.Status)
		input.Status = &status
	}

	message, err := h.messages.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Success(c, message)
}

// deleteMessage godoc
// @Summary 删除消息
// @Tags Messages
// @Produce json
// @Param id path string true "消息ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/messages/{id} [delete]
func (h *Handler) deleteMessage(c *gin.Context) {
	if _, ok := h.ownedMessage(c); !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "删除成功", gin.H{"id": c.Param("id")})
}

// resendMessage godoc
// @Summary 重发失败的消息
// @Tags Messages
// @Produce json
// @Param id path string true "消息ID"
// @Success 200 {object} Response{data=domain.Message}
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Router /v1/messages/{id}/resend [post]
func (h *Handler) resendMessage(c *gin.Context) {
	if _, ok := h.ownedMessage(c); !ok {
		return
	}
	message, err := h.messages.Resend(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Success(c, message)
}

// ownedMessage 取出路径中的消息，不属于当前账号时按不存在处理
func (h *Handler) ownedMessage(c *gin.Context) (*domain.Message, bool) {
	message, err := h.loadOwned(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	return message, true
}

func (h *Handler) loadOwned(ctx context.Context, ownerID, id string) (*domain.Message, error) {
	message, err := h.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if message.OwnerID != ownerID {
		return nil, domain.ErrMessageNotFound
	}
	return message, nil
}
