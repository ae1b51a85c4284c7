package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AnTengye/compliancecheck/backend/handler"
	"github.com/AnTengye/compliancecheck/backend/middleware"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// writeTimeout caps how long a handler may take to answer.
const writeTimeout = 60 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web service (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(a),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited gracefully")
	return nil
}

func newRouter(a *app) *gin.Engine {
	authHandler := handler.NewAuthHandler(a.cfg)
	contractHandler := handler.NewContractHandler(a.pipeline, a.cfg.Server.MaxUploadBytes)
	callbackHandler := handler.NewCallbackHandler(a.mineru, a.pipeline)
	historyHandler := handler.NewHistoryHandler(a.history)
	llmHandler := handler.NewLLMHandler(a.chain, a.cfg.LLM.Chain)
	workspaceHandler := handler.NewWorkspaceHandler(a.registry, a.cfg.UI)

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())
	router.Use(middleware.NoCache())
	router.Use(middleware.RateLimit(a.cfg.Server.RateLimit, time.Minute))

	router.StaticFS("/static", handler.StaticFS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Workspace, one per browser session
	workspace := router.Group("/", middleware.Session())
	{
		workspace.GET("/", workspaceHandler.Page)
		workspace.POST("/workspace/upload", workspaceHandler.UploadForm)
		workspace.POST("/workspace/contracts/:id/review", workspaceHandler.ReviewForm)
		workspace.GET("/api/workspace", workspaceHandler.Get)
		workspace.POST("/api/workspace/contracts", workspaceHandler.Upload)
		workspace.POST("/api/workspace/contracts/:id/review", workspaceHandler.Review)
	}

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/mineru/callback", callbackHandler.HandleCallback)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&a.cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/contracts/upload", contractHandler.Upload)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.GET("/contracts/:id/status", contractHandler.GetStatus)
		protected.DELETE("/contracts/:id", contractHandler.Delete)
		protected.GET("/contracts/:id/export", contractHandler.Export)
		protected.POST("/contracts/:id/sheets", contractHandler.ExportSheet)
		protected.POST("/contracts/:id/rewrite", contractHandler.Rewrite)
		protected.GET("/history", historyHandler.List)
		protected.GET("/history/stats", historyHandler.Stats)
		protected.DELETE("/history", historyHandler.Clear)
		protected.GET("/llm/providers", llmHandler.Providers)
	}

	return router
}
