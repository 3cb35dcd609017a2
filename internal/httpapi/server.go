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

	"github.com/mahfaza/walletd/internal/auth"
	"github.com/mahfaza/walletd/pkg/wallet"
)

// OrderSubscriber delivers order events for one account until the returned
// stop function is called. redisfeed satisfies this; deployments without a
// feed leave it nil and the stream endpoint reports unavailability.
type OrderSubscriber interface {
	Subscribe(ctx context.Context, accountID string, callback func(wallet.OrderEvent)) (func() error, error)
}

// Server is the client wallet facade over the domain service.
type Server struct {
	logger     *zap.Logger
	service    *wallet.Service
	subscriber OrderSubscriber
	cfg        Config
}

// NewServer wires the facade.
func NewServer(cfg Config, service *wallet.Service, subscriber OrderSubscriber, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, errors.New("wallet service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, service: service, subscriber: subscriber, cfg: cfg}, nil
}

// Run serves the facade until ctx is canceled.
func (server *Server) Run(ctx context.Context) error {
	validator, err := auth.NewValidator(server.cfg.JWTSecret, server.cfg.JWTIssuer)
	if err != nil {
		return err
	}
	router := server.setupRouter(validator)

	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("wallet facade listening", zap.String("addr", server.cfg.ListenAddr))
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

func (server *Server) setupRouter(validator *auth.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(validator.GinMiddleware())
	api.GET("/wallet", server.handleWallet)
	api.GET("/transactions", server.handleTransactions)
	api.POST("/redeem", server.handleRedeem)
	api.POST("/purchase", server.handlePurchase)
	api.GET("/orders", server.handleOrders)
	api.GET("/orders/unread-count", server.handleUnreadCount)
	api.GET("/orders/stream", server.handleOrderStream)
	api.POST("/orders/:id/read", server.handleMarkReplyRead)

	admin := router.Group("/admin")
	admin.Use(validator.GinMiddleware(), auth.RequireAdmin())
	admin.POST("/orders/:id/reply", server.handleAdminReply)
	admin.POST("/orders/:id/complete", server.handleAdminComplete)
	admin.POST("/adjust", server.handleAdminAdjust)
	admin.POST("/codes", server.handleAdminMintCodes)
	admin.POST("/products", server.handleAdminCreateProduct)

	return router
}
