// 文件: cmd/simulation/main.go
// 单机全链路模拟
//
// 启动顺序:
// 1. 配置 / 日志 / 指标
// 2. 存储 (数据库 + Redis 缓存，可选)
// 3. 资产账本 / 报价源 / 会话 / 账本时钟
// 4. 事件发布 (NATS / Kafka / 直接落库) 与事件落库
// 5. 池引擎 -> 清算守护进程
// 6. 跑一遍脚本化场景，然后让报价随机游走直到退出信号

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"levpool.com/pkg/config"
	"levpool.com/pkg/metrics"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config file (empty uses built-in defaults)")
		scenario   = flag.Bool("scenario", true, "run the scripted LP / trader / crash scenario on a fresh pool")
		exitAfter  = flag.Bool("exit", false, "exit after the scenario instead of waiting for a signal")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("🚀 Starting leverage pool simulation...",
		zap.String("pool_asset", cfg.Pool.PoolAsset),
		zap.String("storage", driverName(cfg.Storage.Driver)),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Bool("nats", cfg.NATS.URL != ""),
		zap.Bool("kafka", len(cfg.Kafka.Brokers) > 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.Default()
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = serveMetrics(cfg.Metrics.Addr, logger)
	}

	a, err := newApp(ctx, cfg, m, logger)
	if err != nil {
		logger.Fatal("[Sim] bootstrap failed", zap.Error(err))
	}
	defer a.Close()

	if *scenario {
		if a.fresh {
			if err := runScenario(ctx, a); err != nil {
				logger.Error("[Sim] ❌ scenario failed", zap.Error(err))
			}
		} else {
			logger.Info("[Sim] pool restored from storage, scenario skipped")
		}
		a.report(ctx)
	}

	if !*exitAfter {
		a.startDrift(ctx)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
	}

	logger.Info("🛑 Shutting down...")
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		done()
	}
}

// serveMetrics 在 addr 上暴露 /metrics
func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[Metrics] server stopped", zap.Error(err))
		}
	}()
	logger.Info("[Metrics] listening", zap.String("addr", addr))
	return srv
}

func driverName(d string) string {
	if d == "" {
		return "memory"
	}
	return d
}
