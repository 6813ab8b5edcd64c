package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/msea200/clipshare/internal/domain"
)

// Gin 上下文中保存身份信息的键
const (
	ContextUserID   = "user_id"
	ContextIdentity = "identity"
)

// accessTokenQuery WebSocket 握手无法设置请求头，允许通过查询参数携带 token
const accessTokenQuery = "access_token"

// TokenParser 校验 token 并返回其中的身份信息，由 service.AuthService 实现
type TokenParser interface {
	ParseToken(tokenString string) (*domain.Identity, error)
}

// ErrMissingAuthHeader 定义一个自定义错误，用于表示缺少 Authorization 头
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// Auth 返回一个 Gin 中间件，要求请求携带有效的 JWT。
func Auth(parser TokenParser) gin.HandlerFunc {
	if parser == nil {
		panic("TokenParser cannot be nil for Auth middleware")
	}

	return func(c *gin.Context) {
		// 1. 提取 Token
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing Authorization header")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			} else {
				logrus.Warnf("Auth middleware: Malformed token format: %v", err)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			}
			c.Abort()
			return
		}

		// 2. 验证 Token
		identity, err := parser.ParseToken(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Invalid token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		// 3. 将身份信息设置到 Context
		setIdentity(c, identity)
		logrus.WithField("user_id", identity.UserID).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// OptionalAuth 在携带有效 token 时附加身份信息，未携带时匿名放行。
// 携带了但无效的 token 仍然返回 401，避免客户端误以为自己已登录。
func OptionalAuth(parser TokenParser) gin.HandlerFunc {
	if parser == nil {
		panic("TokenParser cannot be nil for OptionalAuth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if errors.Is(err, ErrMissingAuthHeader) {
			c.Next()
			return
		}
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format"})
			c.Abort()
			return
		}
		identity, err := parser.ParseToken(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("OptionalAuth middleware: Invalid token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		setIdentity(c, identity)
		c.Next()
	}
}

// RequireRole 要求已认证的身份具有指定角色，必须放在 Auth 之后。
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFrom(c)
		if identity == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		if identity.Role != role {
			logrus.WithFields(logrus.Fields{
				"user_id":       identity.UserID,
				"required_role": role,
			}).Warn("RequireRole: access denied")
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFrom 返回中间件附加的身份信息，匿名请求返回 nil。
func IdentityFrom(c *gin.Context) *domain.Identity {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return nil
	}
	identity, _ := v.(*domain.Identity)
	return identity
}

func setIdentity(c *gin.Context, identity *domain.Identity) {
	c.Set(ContextUserID, identity.UserID)
	c.Set(ContextIdentity, identity)
}

// extractToken 从 Authorization 头或 access_token 查询参数中提取 Bearer Token
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query(accessTokenQuery); q != "" {
			return q, nil
		}
		return "", ErrMissingAuthHeader
	}
	// Authorization header 格式应为 "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}
