package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"

	"msgdash/backend/internal/middleware"
	"msgdash/backend/internal/service"
)

type recordReplyRequest struct {
	SenderID  string     `json:"senderId" binding:"required"`
	Content   string     `json:"content" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

// listMessageReplies godoc
// @Summary 获取消息的回复
// @Description 按到达顺序返回，最早在前
// @Tags Replies
// @Produce json
// @Param id path string true "消息ID"
// @Success 200 {object} Response{data=ListResponse{items=[]domain.Reply}}
// @Failure 404 {object} Response
// @Router /v1/messages/{id}/replies [get]
func (h *Handler) listMessageReplies(c *gin.Context) {
	if _, ok := h.ownedMessage(c); !ok {
		return
	}
	replies, err := h.replies.RepliesFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	List(c, replies)
}

// recordReply godoc
// @Summary 手动记录一条回复
// @Tags Replies
// @Accept json
// @Produce json
// @Param id path string true "消息ID"
// @Param request body recordReplyRequest true "回复内容"
// @Success 201 {object} Response{data=domain.Reply}
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /v1/messages/{id}/replies [post]
func (h *Handler) recordReply(c *gin.Context) {
	var req recordReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if _, ok := h.ownedMessage(c); !ok {
		return
	}

	input := service.RecordReplyInput{
		MessageID: c.Param("id"),
		SenderID:  req.SenderID,
		Content:   req.Content,
	}
	if req.Timestamp != nil {
		input.Timestamp = *req.Timestamp
	}

	reply, err := h.replies.RecordReply(c.Request.Context(), input)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if reply == nil {
		// 消息在记录前已被删除
		NotFound(c, MsgMessageNotFound)
		return
	}
	Created(c, reply)
}

// listReplies godoc
// @Summary 获取账号收到的全部回复
// @Tags Replies
// @Produce json
// @Success 200 {object} Response{data=ListResponse{items=[]domain.Reply}}
// @Router /v1/replies [get]
func (h *Handler) listReplies(c *gin.Context) {
	replies, err := h.replies.ListByOwner(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	List(c, replies)
}
