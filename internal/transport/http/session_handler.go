package httptransport

import (
	"github.com/gin-gonic/gin"

	"msgdash/backend/internal/middleware"
)

// connectSession godoc
// @Summary 发起设备绑定
// @Description 关闭已有连接并生成新的二维码，扫码完成后会话进入 linked
// @Tags Session
// @Produce json
// @Success 201 {object} Response{data=domain.LinkSession}
// @Router /v1/session/connect [post]
func (h *Handler) connectSession(c *gin.Context) {
	session, err := h.sessions.Connect(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Created(c, session)
}

// getSession godoc
// @Summary 获取当前设备会话
// @Tags Session
// @Produce json
// @Success 200 {object} Response{data=domain.LinkSession}
// @Failure 404 {object} Response
// @Router /v1/session [get]
func (h *Handler) getSession(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Success(c, session)
}

// disconnectSession godoc
// @Summary 断开设备
// @Tags Session
// @Produce json
// @Success 200 {object} Response{data=domain.LinkSession}
// @Failure 404 {object} Response
// @Router /v1/session [delete]
func (h *Handler) disconnectSession(c *gin.Context) {
	session, err := h.sessions.Disconnect(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "已断开", session)
}
