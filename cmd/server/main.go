package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/libaice/orderbooktrade-yellow-app/internal/auditlog"
	"github.com/libaice/orderbooktrade-yellow-app/internal/channel"
	"github.com/libaice/orderbooktrade-yellow-app/internal/handler"
	"github.com/libaice/orderbooktrade-yellow-app/internal/logging"
	"github.com/libaice/orderbooktrade-yellow-app/internal/middleware"
	"github.com/libaice/orderbooktrade-yellow-app/internal/proof"
	"github.com/libaice/orderbooktrade-yellow-app/internal/session"
	"github.com/libaice/orderbooktrade-yellow-app/internal/signature"
	"github.com/libaice/orderbooktrade-yellow-app/internal/transport"
)

func main() {
	log := logging.Named("server")
	log.Info("starting trading service")

	chainID := envUint("CHAIN_ID", 1)
	feeBps := envInt("FEE_BPS", 0)
	auditCapacity := envInt("AUDIT_CAPACITY", auditlog.DefaultCapacity)

	// --- Core components ---

	sigDomain := signature.DefaultDomain(chainID)
	verifier := signature.NewVerifier(sigDomain)

	// The operator key signs the operator side of every checkpoint. A
	// fresh key is generated when none is configured.
	var signer *signature.Signer
	var err error
	if hexKey := os.Getenv("OPERATOR_KEY"); hexKey != "" {
		signer, err = signature.NewSigner(sigDomain, hexKey)
	} else {
		signer, err = signature.GenerateSigner(sigDomain)
	}
	if err != nil {
		log.Fatal("operator signer init failed", zap.Error(err))
	}
	log.Info("operator signer ready", zap.String("address", signer.Address()))

	audit := auditlog.New(int(auditCapacity))
	channels := channel.NewManager(verifier, audit, logging.Named("channel"))
	proofs := proof.NewAssembler(channels, audit)

	hub := session.NewHub(session.HubConfig{
		Channels: channels,
		Audit:    audit,
		Signer:   signer,
		Verifier: verifier,
		FeeBps:   feeBps,
	})

	// --- Peer transport ---
	// When a peer endpoint is configured, state updates co-signed out
	// of band are streamed in over websocket and applied to their
	// channels.
	peerCtx, peerCancel := context.WithCancel(context.Background())
	defer peerCancel()
	if peerURL := os.Getenv("PEER_WS_URL"); peerURL != "" {
		peer := transport.NewClient(transport.Config{URL: peerURL})
		go func() {
			if err := peer.Run(peerCtx); err != nil && peerCtx.Err() == nil {
				log.Error("peer transport stopped", zap.Error(err))
			}
		}()
		go hub.ConsumePeer(peerCtx, peer.Events())
		log.Info("peer transport started", zap.String("url", peerURL))
	}

	// --- HTTP Server ---
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	r := gin.Default()
	r.Use(middleware.PrometheusMiddleware())

	h := handler.NewHandler(hub, channels, audit, proofs)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	// --- Metrics Server ---
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9090"
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + metricsPort,
		Handler: metricsMux,
	}

	// Start servers
	go func() {
		log.Info("metrics server listening", zap.String("port", metricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server error", zap.Error(err))
		}
	}()

	go func() {
		log.Info("http server listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peerCancel()
	hub.Shutdown()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", zap.Error(err))
	}

	log.Info("trading service stopped")
}

func envInt(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envUint(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
