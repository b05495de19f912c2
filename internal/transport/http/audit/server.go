package audithttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"agentaudit/internal/metrics"
	"agentaudit/internal/transport/http/middleware"

	"github.com/gin-gonic/gin"
)

// Server 提供审计 HTTP 服务（决策查询、导出、承诺/校验、收益排序）。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr          string
	Decisions     DecisionService
	Ledger        Ledger
	Yields        YieldRanker
	Metrics       *metrics.Metrics
	MetricsPath   string
	CORSOrigin    string
	RateLimit     middleware.RateLimiterConfig
	PublicBaseURL string
	ExportPrefix  string
	YieldDefaults YieldDefaults
}

// NewServer 构建 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Decisions == nil || cfg.Ledger == nil {
		return nil, errors.New("audit http server requires decision service and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestLogger(cfg.Metrics),
		middleware.CORS(cfg.CORSOrigin),
		middleware.RateLimiter(cfg.RateLimit),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(cfg.Metrics.Handler()))
	}
	NewRouter(RouterConfig{
		Decisions:     cfg.Decisions,
		Ledger:        cfg.Ledger,
		Yields:        cfg.Yields,
		PublicBaseURL: cfg.PublicBaseURL,
		ExportPrefix:  cfg.ExportPrefix,
		YieldDefaults: cfg.YieldDefaults,
	}).Register(&router.RouterGroup)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 暴露底层 http.Handler，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
