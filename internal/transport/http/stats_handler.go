package httptransport

import (
	"github.com/gin-gonic/gin"

	"msgdash/backend/internal/domain"
	"msgdash/backend/internal/middleware"
)

// getStats godoc
// @Summary 获取消息统计
// @Description 每次请求按当前数据重新计算
// @Tags Stats
// @Produce json
// @Success 200 {object} Response{data=domain.Stats}
// @Router /v1/stats [get]
func (h *Handler) getStats(c *gin.Context) {
	stats, err := h.stats.GetMessageStats(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Success(c, stats)
}

// getActivity godoc
// @Summary 获取每日消息分布
// @Tags Stats
// @Produce json
// @Param range query string false "统计区间" Enums(7d, 30d, 90d) default(7d)
// @Success 200 {object} Response{data=ListResponse{items=[]domain.DailyActivity}}
// @Failure 400 {object} Response
// @Router /v1/stats/activity [get]
func (h *Handler) getActivity(c *gin.Context) {
	days, ok := domain.ActivityRanges[c.DefaultQuery("range", "7d")]
	if !ok {
		BadRequest(c, MsgInvalidRange)
		return
	}

	activity, err := h.stats.Activity(c.Request.Context(), middleware.OwnerID(c), days)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	List(c, activity)
}
