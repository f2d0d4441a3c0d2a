package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/linking"
	"msgdash/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 校验错误
	domain.ErrEmptyContent:     "消息内容不能为空",
	domain.ErrContentTooLong:   "消息内容过长",
	domain.ErrEmptyRecipients:  "至少需要一个收件人",
	domain.ErrInvalidRecipient: "收件人号码无效",
	domain.ErrScheduleInPast:   "定时时间必须晚于当前时间",
	domain.ErrScheduleRequired: "定时消息必须设置定时时间",
	domain.ErrUnknownStatus:    "未知的消息状态",

	// 资源错误
	domain.ErrMessageNotFound: "消息不存在",
	domain.ErrSessionNotFound: "设备会话不存在",

	// 业务冲突
	service.ErrNotResendable:       "只有发送失败的消息可以重发",
	service.ErrIdempotencyConflict: "相同幂等键的请求正在处理中",
	linking.ErrNotLinked:           "设备尚未绑定",
	linking.ErrClosed:              "设备连接已关闭",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidRange   = "统计区间只支持 7d、30d、90d"
	MsgAuthRequired   = "需要登录认证"

	MsgMessageNotFound = "消息不存在"
	MsgSessionNotFound = "设备会话不存在"

	MsgInternalError = "服务器内部错误，请稍后重试"
)

// statusFor 将业务错误映射为 HTTP 状态码
func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotResendable),
		errors.Is(err, service.ErrIdempotencyConflict),
		errors.Is(err, linking.ErrNotLinked),
		errors.Is(err, linking.ErrClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError 输出业务错误，未知错误只记录日志，不向客户端暴露细节
func writeError(c *gin.Context, log *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		InternalError(c, MsgInternalError)
		return
	}
	Error(c, status, GetErrorMessage(err))
}
