package api

import (
	"github.com/gin-gonic/gin"
	"github.com/kasper/vidmeta/internal/api/handler"
	"github.com/kasper/vidmeta/internal/api/middleware"
	"github.com/kasper/vidmeta/internal/config"
	"github.com/kasper/vidmeta/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	importService *service.ImportService,
	videoService *service.VideoService,
	cfg *config.ServerConfig,
) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	healthHandler := handler.NewHealthHandler()
	importHandler := handler.NewImportHandler(importService)
	videoHandler := handler.NewVideoHandler(videoService)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Imports
		v1.POST("/imports", importHandler.Submit)
		v1.GET("/imports/:id", importHandler.GetProgress)

		// Videos
		v1.GET("/videos", videoHandler.List)
		v1.GET("/videos/stats", videoHandler.Stats)
		v1.GET("/videos/:id", videoHandler.Get)
	}

	return r
}
