// Package httpapi is the JSON-over-HTTP surface of the backend.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/densematrix/voicemargin/internal/article"
	"github.com/densematrix/voicemargin/internal/config"
	"github.com/densematrix/voicemargin/internal/metrics"
	"github.com/densematrix/voicemargin/internal/notionsync"
	"github.com/densematrix/voicemargin/internal/payments"
	"github.com/densematrix/voicemargin/internal/transcribe"
	"github.com/densematrix/voicemargin/pkg/tokens"
)

// ArticleExtractor fetches and extracts a web article.
type ArticleExtractor interface {
	Extract(ctx context.Context, rawURL string) (article.Article, error)
}

// CheckoutClient creates payment checkout sessions.
type CheckoutClient interface {
	CreateCheckout(ctx context.Context, input payments.CheckoutInput) (payments.CheckoutSession, error)
}

// Server holds the handler dependencies.
type Server struct {
	logger      *zap.Logger
	cfg         config.Config
	tokens      *tokens.Service
	extractor   ArticleExtractor
	transcriber transcribe.Transcriber
	syncer      notionsync.Syncer
	checkout    CheckoutClient
}

// NewServer wires a Server. checkout may be nil when payments are not
// configured; the checkout endpoint then answers 503.
func NewServer(logger *zap.Logger, cfg config.Config, tokenService *tokens.Service, extractor ArticleExtractor, transcriber transcribe.Transcriber, syncer notionsync.Syncer, checkout CheckoutClient) *Server {
	return &Server{
		logger:      logger,
		cfg:         cfg,
		tokens:      tokenService,
		extractor:   extractor,
		transcriber: transcriber,
		syncer:      syncer,
		checkout:    checkout,
	}
}

// Router builds the gin engine with all routes registered.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "X-Admin-Key"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(ginContext *gin.Context) {
		ginContext.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.POST("/extract", server.handleExtract)
	api.POST("/transcribe", server.handleTranscribe)
	api.POST("/sync-notion", server.handleSyncNotion)

	api.GET("/tokens/:device_id", server.handleTokenStatus)
	api.GET("/tokens/:device_id/can-generate", server.handleCanGenerate)

	api.GET("/products", server.handleProducts)
	api.POST("/checkout", server.handleCheckout)
	api.POST("/webhook", server.handleWebhook)

	admin := api.Group("/admin")
	admin.Use(server.requireAdminKey())
	admin.POST("/set-unlimited/:device_id", server.handleAdminSetUnlimited)
	admin.POST("/add-tokens/:device_id", server.handleAdminAddTokens)
	admin.POST("/reset/:device_id", server.handleAdminReset)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("voicemargin listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) requireAdminKey() gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		if ginContext.GetHeader("X-Admin-Key") != server.cfg.AdminKey {
			ginContext.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid admin key"))
			return
		}
		ginContext.Next()
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
