package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the batch endpoints.
func NewRouter(h *Handler, log *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.GET("/health", h.Health)

	batches := r.Group("/batches")
	{
		batches.POST("", h.CreateBatch)
		batches.POST("/:id/start", h.StartBatch)
		batches.POST("/:id/resume", h.ResumeBatch)
		batches.GET("/:id/progress", h.GetProgress)
		batches.GET("/:id/files", h.ListFiles)
		batches.GET("/:id/invoices", h.ListInvoices)
	}

	r.GET("/invoices/:id", h.GetInvoice)

	return r
}

func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"elapsed_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	}
}
