package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/caffeineduck/gorex/config"
	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/caffeineduck/gorex/sandbox"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP extraction API",
	Long: `Start an HTTP server in front of the extraction service.

Endpoints:
  POST /v1/extract    Extract content: {"html","url","mode","fields","stats"}
  POST /v1/validate   Check HTML structure: {"html"}
  GET  /v1/info       Guest description and supported modes
  GET  /v1/stats      Pool metrics and per-instance counters
  GET  /health        Liveness plus circuit state
  GET  /metrics       Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

type extractRequest struct {
	HTML   string   `json:"html"`
	URL    string   `json:"url"`
	Mode   string   `json:"mode"`
	Fields []string `json:"fields"`
	Stats  bool     `json:"stats"`
}

type validateRequest struct {
	HTML string `json:"html"`
}

// statusFor maps an extraction error kind onto an HTTP status.
func statusFor(err error) int {
	switch extract.KindOf(err) {
	case extract.KindInvalidHTML, extract.KindUnsupportedMode:
		return http.StatusUnprocessableEntity
	case extract.KindMemoryLimitExceeded, extract.KindFuelExhausted:
		return http.StatusRequestEntityTooLarge
	case extract.KindTimeout:
		return http.StatusGatewayTimeout
	case extract.KindPoolExhausted:
		return http.StatusServiceUnavailable
	case extract.KindFallbackFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": toResultError(err)})
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimit is per-client-IP token-bucket limiting. rps <= 0 disables it.
// Buckets idle for limiterTTL are swept once the table passes limiterSweep.
func rateLimit(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	var mu sync.Mutex
	limiters := make(map[string]*limiterEntry)

	get := func(ip string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if len(limiters) > limiterSweep {
			for k, e := range limiters {
				if now.Sub(e.lastSeen) > limiterTTL {
					delete(limiters, k)
				}
			}
		}
		e, ok := limiters[ip]
		if !ok {
			e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[ip] = e
		}
		e.lastSeen = now
		return e.limiter
	}

	return func(c *gin.Context) {
		if !get(c.ClientIP(), time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": resultError{Kind: "rate_limited", Message: "rate limit exceeded"},
			})
			return
		}
		c.Next()
	}
}

const (
	limiterSweep = 4096
	limiterTTL   = 10 * time.Minute
)

// requestLogger logs each request through zap.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func newRouter(svc *sandbox.Service, cfg config.ServerConfig, gatherer prometheus.Gatherer, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		m := svc.Metrics()
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"circuit_state": m.CircuitState,
			"instances":     m.InstanceCount,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.Use(rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	v1.POST("/extract", func(c *gin.Context) {
		var req extractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": resultError{Kind: "bad_request", Message: err.Error()}})
			return
		}
		mode, err := parseMode(req.Mode, req.Fields)
		if err != nil {
			abortWithError(c, &extract.Error{Kind: extract.KindUnsupportedMode, Detail: err.Error()})
			return
		}
		er := extract.Request{HTML: req.HTML, URL: req.URL, Mode: mode}

		if req.Stats {
			content, stats, err := svc.ExtractWithStats(c.Request.Context(), er)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, extractResult{Content: content, Stats: &stats})
			return
		}
		content, err := svc.Extract(c.Request.Context(), er)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, extractResult{Content: content})
	})

	v1.POST("/validate", func(c *gin.Context) {
		var req validateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": resultError{Kind: "bad_request", Message: err.Error()}})
			return
		}
		ok, err := svc.ValidateHTML(c.Request.Context(), req.HTML)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": ok})
	})

	v1.GET("/info", func(c *gin.Context) {
		info, err := svc.Info(c.Request.Context())
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"guest": svc.Guest(), "info": info})
	})

	v1.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pool": svc.Metrics(), "instances": svc.Instances()})
	})

	return r
}

func runServe(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := setup(cmd, metrics.NewPrometheus(reg))
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if v, _ := cmd.Flags().GetString("addr"); v != "" {
		addr = v
	}

	if !a.cfg.LogDev {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(a.svc, a.cfg.Server, reg, a.log.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.EpochTimeout()+5*time.Second)
	defer cancel()
	a.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
