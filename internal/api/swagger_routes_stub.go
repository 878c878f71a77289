//go:build !swagger

package api

import "github.com/gin-gonic/gin"

// registerSwaggerRoutes 未启用swagger标签时为空实现，/docs/redoc仍然可用
func registerSwaggerRoutes(engine *gin.Engine) {}
