package api

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// registerOpenAPIRoutes 注册OpenAPI文档与浏览页面
func registerOpenAPIRoutes(engine *gin.Engine) {
	engine.GET("/openapi", serveOpenAPI)
	engine.GET("/openapi.yaml", serveOpenAPI)
	engine.GET("/docs/redoc", serveRedoc)
	engine.GET("/docs/ui", serveSwaggerUI)
}

func serveOpenAPI(c *gin.Context) {
	c.Header("Content-Type", "application/yaml; charset=utf-8")
	c.File("docs/api/openapi.yaml")
}

// localAsset 本地静态资源存在时返回其URL，否则回退CDN
func localAsset(path, cdn string) string {
	if _, err := os.Stat("static/vendors/" + path); err == nil {
		return "/static/vendors/" + path
	}
	return cdn
}

func serveRedoc(c *gin.Context) {
	script := localAsset("redoc/redoc.standalone.js",
		"https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js")

	html := `<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>DPC3000 压力控制服务 API</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
      body { margin: 0; padding: 0; }
      .topbar { height: 44px; display: flex; align-items: center; justify-content: space-between;
        padding: 0 16px; background: #1a2332; color: #e2e8f0;
        font: 600 14px/1 -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; }
      .topbar a { color: #9bc4f7; text-decoration: none; margin-left: 14px; font-weight: 400; }
    </style>
  </head>
  <body>
    <div class="topbar">
      <span>DPC3000 API</span>
      <span>
        <a href="/openapi" target="_blank">OpenAPI YAML</a>
        <a href="/docs/ui">Swagger UI</a>
      </span>
    </div>
    <redoc spec-url="/openapi" expand-responses="200,201"></redoc>
    <script src="` + script + `"></script>
  </body>
</html>`
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func serveSwaggerUI(c *gin.Context) {
	css := localAsset("swagger-ui/swagger-ui.css",
		"https://unpkg.com/swagger-ui-dist@5/swagger-ui.css")
	bundle := localAsset("swagger-ui/swagger-ui-bundle.js",
		"https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js")

	html := `<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>DPC3000 压力控制服务 API</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <link rel="stylesheet" href="` + css + `">
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="` + bundle + `" crossorigin></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi',
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis],
        layout: 'BaseLayout'
      })
    </script>
  </body>
</html>`
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
