package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter returns a gin engine with CORS enabled and every route mounted.
func NewRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/health", handler.GetHealth)
		api.GET("/markets", handler.GetMarkets)
		api.GET("/miners", handler.GetMiners)
		api.GET("/miners/:id/scores", handler.GetMinerScores)
		api.GET("/weights", handler.GetWeights)
		api.GET("/pool", handler.GetPool)
		api.GET("/pool/geojson", handler.GetPoolGeoJSON)
		api.POST("/batches", handler.CreateBatch)
		api.POST("/batches/:id/responses", handler.SubmitResponses)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
