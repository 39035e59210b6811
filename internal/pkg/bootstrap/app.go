// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"orderpay/internal/pkg/config"
	"orderpay/internal/pkg/nacos"
	"orderpay/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

// Runner 是随服务一起运行的后台任务 (消费者、定时任务)，ctx 结束时应返回
type Runner func(ctx context.Context) error

// AppInfo 包含了启动服务所需的所有特定信息。
type AppInfo struct {
	Config *config.Config
	// RegisterHandlers 允许服务注册自己的 HTTP 路由
	RegisterHandlers func(mux *http.ServeMux)
	Runners          []Runner
	// Closers 在所有 goroutine 退出后按注册的逆序执行
	Closers []func() error
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞到收到退出信号或某个后台任务失败。
func StartService(info AppInfo) error {
	cfg := info.Config
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	endpoint := ""
	if cfg.Infra.Jaeger.Enabled {
		endpoint = cfg.Infra.Jaeger.Endpoint
	}
	tp, err := tracing.InitTracerProvider(cfg.App.Name, endpoint)
	if err != nil {
		return errors.Wrap(err, "init tracer provider")
	}

	deregister, err := register(cfg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(mux)
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("service", cfg.App.Name).Int("port", cfg.App.Port).Msg("✅ HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, run := range info.Runners {
		run := run
		g.Go(func() error { return run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("service", cfg.App.Name).Msg("🛑 Shutting down service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		deregister()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down http server")
		}
		return nil
	})

	runErr := g.Wait()

	for i := len(info.Closers) - 1; i >= 0; i-- {
		if err := info.Closers[i](); err != nil {
			log.Warn().Err(err).Msg("cleanup failed")
		}
	}

	// 最后关闭 Tracer Provider，确保关停过程中产生的 span 也被发送出去
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Error shutting down tracer provider")
	}

	if runErr != nil {
		return runErr
	}
	log.Info().Str("service", cfg.App.Name).Msg("Service gracefully shut down.")
	return nil
}

// register 在启用 Nacos 时注册本实例，返回对应的注销函数
func register(cfg *config.Config) (func(), error) {
	if !cfg.Infra.Nacos.Enabled {
		return func() {}, nil
	}
	client, err := nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return nil, errors.Wrap(err, "init nacos client")
	}
	ip, err := outboundIP()
	if err != nil {
		return nil, errors.Wrap(err, "resolve outbound ip")
	}
	if err := client.RegisterServiceInstance(cfg.App.Name, ip, cfg.App.Port); err != nil {
		return nil, err
	}
	return func() {
		if err := client.DeregisterServiceInstance(cfg.App.Name, ip, cfg.App.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		client.Close()
	}, nil
}

// outboundIP 返回访问外网时使用的本机地址，不会真正发送数据
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
