package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/photovault/internal/api/handlers"
	"github.com/your-org/photovault/internal/api/ws"
	"github.com/your-org/photovault/internal/auth"
	"github.com/your-org/photovault/internal/faces"
	"github.com/your-org/photovault/internal/jobs"
	"github.com/your-org/photovault/internal/queue"
	"github.com/your-org/photovault/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Jobs     *jobs.Service
	Resolver *faces.Resolver
	Hub      *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket progress feed
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Jobs
	jobH := handlers.NewJobHandler(cfg.Jobs)
	v1.POST("/jobs", jobH.Create)
	v1.GET("/jobs", jobH.List)
	v1.GET("/jobs/:id", jobH.Get)
	v1.POST("/jobs/:id/cancel", jobH.Cancel)

	// Persons & Faces
	personH := handlers.NewPersonHandler(cfg.DB, cfg.MinIO, cfg.Resolver)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.PATCH("/persons/:id", personH.Rename)
	v1.POST("/persons/:id/merge", personH.Merge)
	v1.GET("/persons/:id/faces", personH.ListFaces)
	v1.GET("/faces/:faceId/crop", personH.FaceCrop)

	// Similarity search
	searchH := handlers.NewSearchHandler(cfg.DB)
	v1.POST("/search/media", searchH.Media)
	v1.POST("/search/faces", searchH.Faces)

	return r
}
