package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/dpc3000/internal/models"
	"github.com/wfunc/dpc3000/internal/service"
)

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	authService service.AuthService
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(authService service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// RequireAuth 要求已登录，任意角色可通过
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, token, ok := m.authenticate(c)
		if !ok {
			return
		}
		storeClaims(c, claims, token)
		c.Next()
	}
}

// RequireRole 要求已登录且角色在允许列表内
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, token, ok := m.authenticate(c)
		if !ok {
			return
		}

		allowed := false
		for _, role := range roles {
			if claims.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    "INSUFFICIENT_PERMISSION",
				"message": "权限不足",
			})
			c.Abort()
			return
		}

		storeClaims(c, claims, token)
		c.Next()
	}
}

// RequireCommand 控制命令权限，admin或operator
func (m *AuthMiddleware) RequireCommand() gin.HandlerFunc {
	return m.RequireRole(models.RoleAdmin, models.RoleOperator)
}

// RequireAdmin 管理员权限
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return m.RequireRole(models.RoleAdmin)
}

// authenticate 提取并校验令牌，失败时写入401响应并中断
func (m *AuthMiddleware) authenticate(c *gin.Context) (*service.TokenClaims, string, bool) {
	token := extractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "NO_TOKEN",
			"message": "缺少认证令牌",
		})
		c.Abort()
		return nil, "", false
	}

	claims, err := m.authService.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_TOKEN",
			"message": "无效的令牌",
			"details": err.Error(),
		})
		c.Abort()
		return nil, "", false
	}

	return claims, token, true
}

// storeClaims 把操作员信息写入请求上下文
func storeClaims(c *gin.Context, claims *service.TokenClaims, token string) {
	c.Set("operatorID", claims.OperatorID)
	c.Set("username", claims.Username)
	c.Set("role", claims.Role)
	c.Set("sessionID", claims.SessionID)
	c.Set("token", token)
}

// extractToken 依次尝试Authorization头、X-Access-Token头、Cookie和
// query参数。query参数供浏览器WebSocket升级请求使用。
func extractToken(c *gin.Context) string {
	if bearerToken := c.GetHeader("Authorization"); bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}

	return c.Query("token")
}

// GetOperatorID 从上下文获取操作员ID
func GetOperatorID(c *gin.Context) (uint, bool) {
	if operatorID, exists := c.Get("operatorID"); exists {
		if id, ok := operatorID.(uint); ok {
			return id, true
		}
	}
	return 0, false
}

// GetUsername 从上下文获取用户名
func GetUsername(c *gin.Context) (string, bool) {
	if username, exists := c.Get("username"); exists {
		if name, ok := username.(string); ok {
			return name, true
		}
	}
	return "", false
}
