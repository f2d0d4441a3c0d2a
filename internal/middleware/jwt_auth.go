package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"msgdash/backend/internal/auth/jwt"
)

// OwnerIDKey 上下文中保存账号 ID 的键
const OwnerIDKey = "ownerID"

// OwnerAuth 识别请求所属账号
//
// 未配置 JWT 时处于演示模式，所有请求归属固定账号。
type OwnerAuth struct {
	jwtManager *jwt.Manager
	demoOwner  string
	log        *zap.Logger
}

// NewOwnerAuth 创建账号认证中间件，jwtManager 为 nil 表示演示模式
func NewOwnerAuth(jwtManager *jwt.Manager, demoOwner string, log *zap.Logger) *OwnerAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &OwnerAuth{
		jwtManager: jwtManager,
		demoOwner:  demoOwner,
		log:        log,
	}
}

// RequireOwner 要求请求能识别出账号
func (oa *OwnerAuth) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if oa.jwtManager == nil {
			c.Set(OwnerIDKey, oa.demoOwner)
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			abortUnauthorized(c, "需要登录认证")
			return
		}

		claims, err := oa.jwtManager.ValidateToken(token)
		if err != nil {
			oa.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			if errors.Is(err, jwt.ErrExpiredToken) {
				abortUnauthorized(c, "登录已过期，请重新登录")
			} else {
				abortUnauthorized(c, "无效的访问令牌")
			}
			return
		}

		c.Set(OwnerIDKey, claims.OwnerID)
		c.Next()
	}
}

// OwnerID 返回当前请求的账号 ID
func OwnerID(c *gin.Context) string {
	return c.GetString(OwnerIDKey)
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": http.StatusUnauthorized,
		"msg":  msg,
	})
}

// extractToken 从请求中提取JWT token
func extractToken(c *gin.Context) string {
	// 1. 从 Authorization header 提取
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	// 2. 从 cookie 提取
	token, err := c.Cookie("access_token")
	if err == nil && token != "" {
		return token
	}

	// 3. 浏览器 WebSocket 无法设置请求头，允许通过查询参数传递
	return c.Query("token")
}
