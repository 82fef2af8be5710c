package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// App 把引擎、观众注册表、渲染与 HTTP 接口组装在一起
type App struct {
	Config   Config
	Engine   *Engine
	Hub      *Hub
	Renderer Renderer
	Metrics  *Metrics
}

// NewApp 按配置创建全部组件；renderer 为 nil 时使用内置模板
func NewApp(cfg Config, renderer Renderer) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		tr, err := NewTemplateRenderer(cfg.Game.PauseKey)
		if err != nil {
			return nil, err
		}
		renderer = tr
	}
	m := &Metrics{}
	hub := NewHub(renderer, cfg.Viewer.QueueSize, m)
	engine, err := NewEngine(cfg.Game, hub, m)
	if err != nil {
		return nil, err
	}
	pauseWhenEmpty := cfg.Game.PauseWhenEmpty
	hub.OnLeave(func(remaining int) {
		if remaining == 0 && pauseWhenEmpty {
			// 重新检查人数：离开后立刻重连的观众可能已经加入
			if !engine.PauseIf(func() bool { return hub.Count() == 0 }).Empty() {
				Log.Info("last viewer left, game paused")
				return
			}
		}
		engine.Republish(Regions(RegionScoreboard))
	})
	return &App{Config: cfg, Engine: engine, Hub: hub, Renderer: renderer, Metrics: m}, nil
}

// Handler 路由表
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", a.HandlePage)
	mux.HandleFunc("/keypress", a.HandleKeypress)
	mux.HandleFunc("/click", a.HandleClick)
	mux.HandleFunc("/game-sse", a.HandleSSE)
	mux.HandleFunc("/game-ws", a.HandleWS)
	// 管理与监控接口
	mux.HandleFunc("/admin/config", a.HandleAdminConfig)
	mux.HandleFunc("/admin/config/schema", a.HandleAdminSchema)
	mux.HandleFunc("/metrics", a.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run 启动 Tick 循环与 HTTP 服务，ctx 取消后优雅退出
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Engine.Run(gctx, a.Config.Game.TickInterval)
	})
	g.Go(func() error {
		Log.Infof("pong listening on %s; open http://localhost%s/", srv.Addr, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		Log.Info("shutting down...")
		// 推送连接是长连接，先关闭它们，Shutdown 才不会一直等待
		a.Hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
