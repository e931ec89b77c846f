// Package http 提供治疗预测HTTP服务
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"treatpredict/db"
	"treatpredict/monitoring"
	"treatpredict/predictor"
	"treatpredict/schema"
)

// Predictor 处理器依赖的预测核心
type Predictor interface {
	Categories(domain schema.Domain) ([]string, error)
	StageLabel(code int) string
	Predict(ctx context.Context, in predictor.Input) (predictor.Result, error)
}

// AuditStore 预测审计存储
type AuditStore interface {
	SavePrediction(ctx context.Context, rec db.PredictionRecord) (int64, error)
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionRecord, error)
	CountByOutcome(ctx context.Context) (map[string]int, error)
}

// Deps 服务依赖，仅Predictor必填
type Deps struct {
	Predictor Predictor
	Store     AuditStore
	Hub       *monitoring.Hub
	Metrics   *monitoring.MetricsCollector
	Logger    *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           5000,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
	}
}

type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.Named("http")

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           NewHandler(config, deps),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: logger,
	}
}

// NewHandler 构建路由和中间件链，websocket路由不经过超时中间件
func NewHandler(config ServerConfig, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.Named("http")

	api := http.NewServeMux()
	registerRoutes(api, &handlers{deps: deps, logger: logger})

	root := http.NewServeMux()
	root.Handle("/", TimeoutMiddleware(config.Timeout)(api))
	if deps.Hub != nil {
		root.Handle("GET /api/ws/predictions", deps.Hub)
	}

	chain := Chain(
		RecoveryMiddleware(logger),
		LoggerMiddleware(logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		RequestSizeMiddleware(config.MaxBodyBytes),
	)
	return chain(root)
}

// Start 启动服务器，阻塞直到Stop
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 优雅关闭，最多等待5秒
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
