// Command localserver runs the webhook behind gin for local development.
// It reads .env when present and can seed the store from a fixtures file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"tire-assistant/internal/app"
	"tire-assistant/internal/config"
	"tire-assistant/internal/logging"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading configuration")
	seedPath := flag.String("seed", "", "JSON fixtures loaded into the store at startup")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, false)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to assemble app", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if *seedPath != "" {
		if err := seed(ctx, a, *seedPath); err != nil {
			logger.Error("failed to seed store", "path", *seedPath, "err", err)
			os.Exit(1)
		}
	}

	if strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(a.Handler.Handle)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("local server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

func seed(ctx context.Context, a *app.App, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	stats, err := app.Seed(ctx, a.Store, f)
	if err != nil {
		return err
	}
	slog.Info("store seeded",
		"customers", stats.Customers,
		"inventory", stats.Inventory,
		"compatibilities", stats.Compatibilities,
	)
	return nil
}

type proxyHandler func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func newRouter(handle proxyHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Any("/webhook", adapt(handle))
	return r
}

// adapt presents a gin request to the Lambda handler as an API Gateway
// proxy event.
func adapt(handle proxyHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "MALFORMED_PAYLOAD"})
			return
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k := range c.Request.Header {
			headers[k] = c.Request.Header.Get(k)
		}
		query := make(map[string]string)
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				query[k] = v[0]
			}
		}

		resp, err := handle(c.Request.Context(), events.APIGatewayProxyRequest{
			HTTPMethod:            c.Request.Method,
			Path:                  c.Request.URL.Path,
			Headers:               headers,
			QueryStringParameters: query,
			Body:                  string(body),
		})
		if err != nil {
			slog.Error("handler returned error", "err", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		for k, v := range resp.Headers {
			c.Header(k, v)
		}
		contentType := resp.Headers["Content-Type"]
		if contentType == "" {
			contentType = "text/plain"
		}
		c.Data(resp.StatusCode, contentType, []byte(resp.Body))
	}
}
