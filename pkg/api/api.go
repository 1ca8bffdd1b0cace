package api

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/k8s-chartdeploy/pkg/apiresponses"
	"github.com/telekom/k8s-chartdeploy/pkg/config"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
	"github.com/telekom/k8s-chartdeploy/pkg/ratelimit"
	"github.com/telekom/k8s-chartdeploy/pkg/system"
)

// MaxBodyBytes caps request bodies, including uploaded values files.
const MaxBodyBytes = 10 << 20

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin         *gin.Engine
	config      config.Config
	http        *http.Server
	rateLimiter *ratelimit.IPRateLimiter
	log         *zap.SugaredLogger
}

type ServerConfig struct {
	Log   *zap.Logger
	Cfg   config.Config
	Debug bool
	// TLSOptions are applied to the TLS config when TLS files are configured.
	TLSOptions []func(*tls.Config)
}

func NewServer(sc ServerConfig) *Server {
	if !sc.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	log := sc.Log
	if log == nil {
		log = zap.NewNop()
	}
	cfg := sc.Cfg

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		system.RequestLogger(log.Sugar()),
		limitBody(MaxBodyBytes),
	)
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		log.Sugar().Warnw("Ignoring invalid trusted proxies", "trustedProxies", cfg.Server.TrustedProxies, "error", err)
	}

	if sc.Debug {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: []string{"http://localhost:5173", "http://127.0.0.1:8080"},
				AllowMethods: []string{"GET", "POST", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Content-Type", system.RequestIDHeader},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    log.Sugar().Named("api"),
	}
	if rl, enabled := cfg.RateLimitConfig(); enabled {
		s.rateLimiter = ratelimit.New(rl)
	}

	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.NoRoute(func(c *gin.Context) {
		apiresponses.RespondNotFoundSimple(c, "route not found: "+c.Request.URL.Path)
	})

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	for _, opt := range sc.TLSOptions {
		opt(tlsCfg)
	}
	s.http = &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           engine,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// limitBody rejects bodies over n bytes once a handler reads past the limit.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// RegisterAll mounts every controller under /api behind the rate limiter.
func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware())
	}
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the underlying engine, for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until Shutdown is called. It returns nil after a graceful shutdown.
func (s *Server) Listen() error {
	s.log.Infow("Starting API server", "address", s.http.Addr, "tls", s.config.Server.TLSCertFile != "")
	var err error
	if s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != "" {
		err = s.http.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
	} else {
		err = s.http.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.Close()
	return s.http.Shutdown(ctx)
}

// Close releases background resources. It is safe to call more than once.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}
