package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"edge-gateway/middleware/resilience"
	"edge-gateway/middleware/resilience/domain"
	"edge-gateway/middleware/resilience/infra"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.logLevel); err == nil {
		log.SetLevel(lvl)
	}
	if cfg.logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	routes, err := loadRoutes(cfg.routesFile)
	if err != nil {
		log.Fatalf("routes error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// store compartilhado: Redis quando configurado, memória local caso
	// contrário (sem a garantia multi-instância — só para dev/teste)
	var limiter domain.LimiterStore
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
		limiter = infra.NewRedisLimiterStore(rdb)
	} else {
		log.Warn("REDIS_ADDR not set; using in-process limiter store (single instance only)")
		mem := infra.NewMemoryLimiterStore()
		mem.StartJanitor(ctx)
		limiter = mem
	}

	bulkheads := infra.NewBulkheadRegistry()
	bulkheads.StartJanitor(ctx)
	breakers := infra.NewBreakerRegistry()
	breakers.StartJanitor(ctx)

	mux := http.NewServeMux()
	for _, route := range routes {
		target, err := url.Parse(route.Upstream)
		if err != nil {
			log.Fatalf("route %q: invalid upstream %q: %v", route.Name, route.Upstream, err)
		}

		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			// erro de transporte vira 502; a classificação de retry/breaker
			// acontece na cadeia, em cima do status
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				log.WithField("route", r.URL.Path).WithError(err).Warn("proxy error")
			}
			w.WriteHeader(http.StatusBadGateway)
		}

		h := resilience.Handler(route.RoutePolicy, resilience.Options{
			Limiter:            limiter,
			Bulkhead:           bulkheads,
			Breaker:            breakers,
			TrustXForwardedFor: cfg.trustXFF,
			AddHeaders:         cfg.addHeaders,
			Log:                log,
		})(proxy)

		mux.Handle(route.Prefix, h)
		log.WithFields(logrus.Fields{
			"route":    route.Name,
			"prefix":   route.Prefix,
			"upstream": route.Upstream,
		}).Info("route registered")
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("gateway listening on %s (%d routes)", cfg.listenAddr, len(routes))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr string
	routesFile string
	trustXFF   bool
	addHeaders bool
	logLevel   string
	logJSON    bool

	redisAddr     string
	redisPassword string
	redisDB       int
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.routesFile = getenvDefault("ROUTES_FILE", "routes.yaml")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", true)
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logJSON = getenvBoolDefault("LOG_JSON", false)

	cfg.redisAddr = getenvDefault("REDIS_ADDR", "")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)

	if cfg.routesFile == "" {
		return config{}, errors.New("ROUTES_FILE is required")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
