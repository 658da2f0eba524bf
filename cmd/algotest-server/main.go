// Command algotest-server runs the HTTP façade over the Analysis,
// Selection, Execution, and Report workflows.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tsingsx/algotest/internal/appobs"
	"github.com/tsingsx/algotest/internal/config"
	"github.com/tsingsx/algotest/internal/httpapi"
	"github.com/tsingsx/algotest/internal/llmapi"
	"github.com/tsingsx/algotest/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setupLogging(cfg.LogLevel)

	dsn := cfg.DBDSN
	driver := "mysql"
	if dsn == "" {
		driver = "sqlite"
		dsn = store.DSNForDataDir(cfg.DataDir)
	}
	db, err := store.Open(driver, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	gateway, err := llmapi.NewGateway(cfg.LLM)
	if err != nil {
		log.Fatal().Err(err).Msg("init llm gateway")
	}

	obs, err := appobs.New("algotest")
	if err != nil {
		log.Fatal().Err(err).Msg("init observability stack")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}()

	srv := &httpapi.Server{
		Tasks:   db,
		Cases:   db,
		Reports: db,
		Gateway: gateway,
		Config:  cfg,
		Obs:     obs,
	}
	router := httpapi.NewRouter(srv)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	addr := cfg.APIHost + ":" + strconv.Itoa(cfg.APIPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("algotest-server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
}
