package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/anchorkit/internal/anchor/handler"
	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"github.com/jmerrifield20/anchorkit/internal/audit"
	"github.com/jmerrifield20/anchorkit/internal/clock"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/health"
	"github.com/jmerrifield20/anchorkit/internal/identity"
	"github.com/jmerrifield20/anchorkit/internal/sigverify"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService is the gRPC health service name reported by anchord.
const healthService = "anchorkit.Registry"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("anchord exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	haveConfigFile, err := loadConfig(logger)
	if err != nil {
		return err
	}

	engineCfg, err := engineConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Store ────────────────────────────────────────────────────────────────
	st, closeStore, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := st.View(ctx, time.Now(), func(r store.Reader) error {
		if err := audit.Verify(r); err != nil {
			logger.Warn("audit ledger integrity check FAILED", zap.Error(err))
			return nil
		}
		n, _ := audit.Len(r)
		root, _ := audit.Root(r)
		logger.Info("audit ledger verified", zap.Uint64("entries", n), zap.String("root", root))
		return nil
	}); err != nil {
		return fmt.Errorf("read audit ledger: %w", err)
	}

	// ── Identity ─────────────────────────────────────────────────────────────
	oracle := identity.NewStatic(adminSet(), viper.GetStringSlice("auth.callers"))
	if haveConfigFile {
		viper.OnConfigChange(func(e fsnotify.Event) {
			oracle.Update(adminSet(), viper.GetStringSlice("auth.callers"))
			logger.Info("identity sets reloaded", zap.String("file", e.Name))
		})
		viper.WatchConfig()
	}

	var tokens *identity.TokenIssuer
	if secret := viper.GetString("auth.token_secret"); secret != "" {
		tokens, err = identity.NewTokenIssuer([]byte(secret), "anchord", viper.GetDuration("auth.token_ttl"))
		if err != nil {
			return fmt.Errorf("token issuer: %w", err)
		}
	} else {
		logger.Warn("auth.token_secret not set: bearer tokens disabled, only SPIFFE peers are accepted")
	}

	// ── Events ───────────────────────────────────────────────────────────────
	sinks := events.Fanout{events.NewLog(logger), handler.MetricsSink{}}

	var subs []events.Subscription
	if err := viper.UnmarshalKey("events.webhooks", &subs); err != nil {
		return fmt.Errorf("events.webhooks: %w", err)
	}
	if len(subs) > 0 {
		wh := events.NewWebhook(subs, logger)
		wh.SetMetricsRecorder(handler.RecordWebhookDelivery)
		sinks = append(sinks, wh)
		logger.Info("webhook delivery enabled", zap.Int("subscriptions", len(subs)))
	}

	if uri := viper.GetString("events.mongo.uri"); uri != "" {
		client, coll, err := events.ConnectMongo(ctx, uri,
			viper.GetString("events.mongo.database"),
			viper.GetString("events.mongo.collection"))
		if err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
		defer func() {
			dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer dcancel()
			if err := client.Disconnect(dctx); err != nil {
				logger.Warn("mongodb disconnect", zap.Error(err))
			}
		}()
		indexer := events.NewMongo(coll, 1024, logger)
		defer func() {
			indexer.Close()
			if n := indexer.Dropped(); n > 0 {
				logger.Warn("event indexer dropped events", zap.Int("count", n))
			}
		}()
		sinks = append(sinks, indexer)
		logger.Info("event indexer enabled", zap.String("collection", coll.Name()))
	}

	// ── Engine ───────────────────────────────────────────────────────────────
	eng, err := service.NewEngine(st, oracle, clock.System{}, sinks, engineCfg, logger)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if viper.GetBool("anchor.verify_signatures") {
		eng.SetVerifier(sigverify.BLS{})
		logger.Info("attestation signature verification enabled")
	}

	// ── Health checker ───────────────────────────────────────────────────────
	checker := health.New(eng, health.Config{
		CheckInterval: viper.GetDuration("health.interval"),
		ProbeTimeout:  viper.GetDuration("health.timeout"),
		Actor:         viper.GetString("health.system_actor"),
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthCheck)
	go checker.Start(ctx)

	// ── Background: sweep expired temporary records ──────────────────────────
	go func() {
		ticker := time.NewTicker(viper.GetDuration("store.sweep_interval"))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sctx, scancel := context.WithTimeout(ctx, 30*time.Second)
				n, err := st.Sweep(sctx, time.Now())
				scancel()
				if err != nil {
					logger.Warn("store sweep error", zap.Error(err))
				} else if n > 0 {
					logger.Debug("store sweep", zap.Int("removed", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// ── HTTP Router ──────────────────────────────────────────────────────────
	h := handler.New(eng, tokens, logger)
	h.SetAdminSecretHash(viper.GetString("auth.admin_secret_hash"))
	h.SetProbe(checker.Probe)
	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		h.SetRateLimiter(handler.RateLimiter(ctx, rps, rps*2))
	}

	tlsConfig, err := serverTLS(logger)
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		h.SetTrustDomain(trustDomain())
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", handler.SessionHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(securityHeaders())
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	h.Register(router.Group("/api/v1"))

	// ── gRPC health server ───────────────────────────────────────────────────
	grpcPort := viper.GetInt("server.grpc_port")
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	healthSvc := grpchealth.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	// ── Start servers ────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	httpPort := viper.GetInt("server.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("anchord HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	var tlsSrv *http.Server
	if tlsConfig != nil {
		tlsPort := viper.GetInt("server.tls_port")
		tlsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", tlsPort),
			Handler:           router,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("anchord HTTPS/mTLS listening", zap.Int("port", tlsPort))
			if err := tlsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal("TLS listen error", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("anchord gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Fatal("gRPC serve error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down anchord...")
	healthSvc.Shutdown()
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if tlsSrv != nil {
		if err := tlsSrv.Shutdown(shutCtx); err != nil {
			logger.Error("TLS shutdown error", zap.Error(err))
		}
	}
	grpcServer.GracefulStop()

	logger.Info("anchord stopped")
	return nil
}

// serverTLS builds the mTLS listener config from the SVID files in
// server.svid_dir. It returns nil when mTLS is not configured.
func serverTLS(logger *zap.Logger) (*tls.Config, error) {
	dir := viper.GetString("server.svid_dir")
	if dir == "" || viper.GetString("auth.spiffe_trust_domain") == "" {
		return nil, nil
	}
	cfg, err := spiffeServerConfig(dir, trustDomain())
	if err != nil {
		return nil, fmt.Errorf("mTLS setup: %w", err)
	}
	logger.Info("SPIFFE mTLS enabled",
		zap.String("trust_domain", trustDomain().String()),
		zap.String("svid_dir", dir),
	)
	return cfg, nil
}
