package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"supporthub/internal/auth"
	"supporthub/internal/directory"
	"supporthub/internal/engine"
	"supporthub/internal/feed"
	"supporthub/internal/grpcserver"
	"supporthub/pkg/logging"
	"supporthub/pkg/utils"
)

func main() {
	configFile := flag.String("config", "", "config file (default: supporthub.yaml in . or ~/.supporthub)")
	flag.Parse()

	cfg, err := utils.LoadConfig(*configFile)
	if err != nil {
		logging.L().Fatal().Err(err).Msg("load config failed")
	}
	log := logging.Configure(cfg.Log).With().Str("component", "api-server").Logger()

	hub := feed.NewHub(logging.Component("feed"))
	eng, err := engine.New(cfg, hub)
	if err != nil {
		log.Fatal().Err(err).Msg("engine init failed")
	}
	defer eng.Close()

	admins, err := auth.NewAdmins(cfg.Auth.Admins)
	if err != nil {
		log.Fatal().Err(err).Msg("admin credentials invalid")
	}
	if admins.Len() == 0 {
		log.Warn().Msg("no admins configured; /reconcile and noCache are unusable")
	}
	tokens := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	eng.Watch(ctx, log)

	if cfg.Log.Level != "debug" && cfg.Log.Level != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), directory.CORS(cfg.Server.AllowedOrigins))
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/ws", feed.WSHandler(hub, func(origin string) bool {
		return directory.OriginAllowed(cfg.Server.AllowedOrigins, origin)
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": cfg.DB.Describe()})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := eng.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "not_ready",
				"db_error": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":          "ready",
			"db":              "ok",
			"sources":         len(eng.Sources.Current()),
			"reconciling":     eng.Runner.Busy(),
			"directory_built": eng.Cache.Peek() != nil,
			"tcp_clients":     stats.TCPClients,
			"ws_clients":      stats.WSClients,
		})
	})

	authHandler := auth.NewHandler(admins, tokens)
	authHandler.RegisterRoutes(router.Group("/auth"))

	dirHandler := directory.NewHandler(eng.Cache, eng.Runner, tokens, logging.Component("directory"))
	dirHandler.RegisterRoutes(router)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	if cfg.Server.TCPAddr != "" {
		tcpSrv := feed.NewServer(cfg.Server.TCPAddr, hub, logging.Component("tcp-feed"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcpSrv.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	if cfg.Server.GRPCAddr != "" {
		grpcSrv := grpcserver.NewServer(map[string]grpcserver.Probe{
			grpcserver.ServiceDirectory: func() bool {
				return eng.DB.PingContext(ctx) == nil
			},
			grpcserver.ServiceReconciler: func() bool {
				return len(eng.Sources.Current()) > 0
			},
		}, logging.Component("grpc"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := grpcSrv.Serve(ctx, cfg.Server.GRPCAddr, 5*time.Second); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", cfg.Server.HTTPAddr).Int("sources", len(eng.Sources.Current())).Msg("HTTP API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("shutting down servers")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}

	wg.Wait()
	if eng.Runner.Busy() {
		log.Warn().Msg("reconciliation still running at exit; it resumes on the next trigger")
	}
	log.Info().Msg("servers stopped")
}

func requestLogger() gin.HandlerFunc {
	log := logging.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}
