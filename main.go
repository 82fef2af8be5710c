package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"htmxpong/server"
)

// 入口：读取配置，启动 Tick 循环与 HTTP/SSE 服务
func main() {
	var configPath, addr string
	flag.StringVar(&configPath, "config", "", "config file (yaml/toml/json/properties); default ./pong.*")
	flag.StringVar(&addr, "addr", "", "server listen address, overrides http.addr, e.g. :3000")
	flag.Parse()

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	// zap 日志写入滚动文件，可选同时输出到控制台
	if err := server.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer server.SyncLogger()

	app, err := server.NewApp(cfg, nil)
	if err != nil {
		server.Log.Fatalf("init: %v", err)
	}

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		server.Log.Errorf("server stopped: %v", err)
		server.SyncLogger()
		os.Exit(1)
	}
	server.Log.Info("bye")
}
