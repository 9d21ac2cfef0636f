package router

import (
	"github.com/gin-gonic/gin"
	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/api/handlers"
	"github.com/not-nullexception/ziply/internal/api/middleware"
	"github.com/not-nullexception/ziply/internal/app"
	"github.com/not-nullexception/ziply/internal/queue"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Setup builds the HTTP API over a pipeline. queueClient may be nil.
func Setup(cfg *config.Config, pipeline *app.Pipeline, queueClient queue.Client) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()

	// tracing first so the request logger picks up trace and span IDs
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.ContextualLogger("api"))
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Logger("/health", cfg.Metrics.Endpoint))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics())
	}

	healthHandler := handlers.NewHealthHandler(pipeline.Library, queueClient, cfg.Tracing.ServiceVersion)
	libraryHandler := handlers.NewLibraryHandler(pipeline.Library)
	searchHandler := handlers.NewSearchHandler(pipeline.Selection, &cfg.Selection)
	runHandler := handlers.NewRunHandler(pipeline.Library, pipeline.Selection, pipeline.Orchestrator, queueClient)

	r.GET("/health", healthHandler.Check)

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/authorization", libraryHandler.GetAuthorization)
		api.POST("/authorization", libraryHandler.RequestAuthorization)
		api.GET("/albums", libraryHandler.ListAlbums)
		api.POST("/assets", libraryHandler.UploadAsset)
		api.GET("/assets/:id", libraryHandler.GetAsset)

		search := api.Group("/search")
		{
			search.POST("", searchHandler.StartSearch)
			search.GET("", searchHandler.GetSearch)
			search.DELETE("", searchHandler.CancelSearch)
		}

		runs := api.Group("/runs")
		{
			runs.POST("", runHandler.StartRun)
			runs.GET("/current", runHandler.GetCurrentRun)
			runs.DELETE("/current", runHandler.CancelRun)
		}
	}

	return r
}
