package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// ErrInvalidConfig 配置值不合法
var ErrInvalidConfig = errors.New("invalid config")

// Config 服务整体配置：默认值 → 配置文件 → PONG_ 前缀环境变量
type Config struct {
	HTTP   HTTPConfig
	Game   GameConfig
	Viewer ViewerConfig
	Log    LogConfig
}

type HTTPConfig struct {
	Addr         string
	SSEKeepAlive time.Duration
	WriteTimeout time.Duration
}

// BindingConfig 一侧球拍的上下键
type BindingConfig struct {
	UpKey   string
	DownKey string
}

type GameConfig struct {
	TickInterval   time.Duration
	StartPaused    bool
	PauseWhenEmpty bool
	PauseKey       string
	Left           BindingConfig
	Right          BindingConfig

	PaddleHeight     float64
	PaddleStep       float64
	PaddleInset      float64
	BallSpeed        float64
	BallRadius       float64
	Deflection       float64
	MaxVerticalSpeed float64

	ClickPolicy ClickPolicy
	Handicap    bool
	Seed        uint64
}

type ViewerConfig struct {
	QueueSize int
}

type LogConfig struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Stdout     bool
}

// DefaultConfig 默认配置，按键与原版页面一致
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":3000",
			SSEKeepAlive: 15 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Game: GameConfig{
			TickInterval:     100 * time.Millisecond,
			StartPaused:      true,
			PauseWhenEmpty:   true,
			PauseKey:         "p",
			Left:             BindingConfig{UpKey: "w", DownKey: "s"},
			Right:            BindingConfig{UpKey: "o", DownKey: "l"},
			PaddleHeight:     defaultPaddleHeight,
			PaddleStep:       0.04,
			PaddleInset:      0.01,
			BallSpeed:        0.25,
			BallRadius:       0.01,
			Deflection:       0.15,
			MaxVerticalSpeed: 0.4,
			ClickPolicy:      ClickNone,
		},
		Viewer: ViewerConfig{QueueSize: 64},
		Log: LogConfig{
			File:       "pong.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Stdout:     true,
		},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"http.addr":               d.HTTP.Addr,
		"http.sse_keepalive":      d.HTTP.SSEKeepAlive,
		"http.write_timeout":      d.HTTP.WriteTimeout,
		"game.tick_interval":      d.Game.TickInterval,
		"game.start_paused":       d.Game.StartPaused,
		"game.pause_when_empty":   d.Game.PauseWhenEmpty,
		"game.pause_key":          d.Game.PauseKey,
		"game.left.up_key":        d.Game.Left.UpKey,
		"game.left.down_key":      d.Game.Left.DownKey,
		"game.right.up_key":       d.Game.Right.UpKey,
		"game.right.down_key":     d.Game.Right.DownKey,
		"game.paddle_height":      d.Game.PaddleHeight,
		"game.paddle_step":        d.Game.PaddleStep,
		"game.paddle_inset":       d.Game.PaddleInset,
		"game.ball_speed":         d.Game.BallSpeed,
		"game.ball_radius":        d.Game.BallRadius,
		"game.deflection":         d.Game.Deflection,
		"game.max_vertical_speed": d.Game.MaxVerticalSpeed,
		"game.click_policy":       string(d.Game.ClickPolicy),
		"game.handicap":           d.Game.Handicap,
		"game.seed":               d.Game.Seed,
		"viewer.queue_size":       d.Viewer.QueueSize,
		"log.file":                d.Log.File,
		"log.level":               d.Log.Level,
		"log.max_size_mb":         d.Log.MaxSizeMB,
		"log.max_backups":         d.Log.MaxBackups,
		"log.max_age_days":        d.Log.MaxAgeDays,
		"log.compress":            d.Log.Compress,
		"log.stdout":              d.Log.Stdout,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// LoadConfig 读取配置；path 为空时在当前目录查找 pong.*，找不到则只用默认值和环境变量
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("PONG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("pong")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return decodeConfig(v)
}

// decodeConfig 用 cast 做类型转换，收集所有出错的键一起返回
func decodeConfig(v *viper.Viper) (Config, error) {
	var errs []error
	str := func(key string) string {
		s, err := cast.ToStringE(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return s
	}
	dur := func(key string) time.Duration {
		d, err := cast.ToDurationE(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return d
	}
	flt := func(key string) float64 {
		f, err := cast.ToFloat64E(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return f
	}
	boolean := func(key string) bool {
		b, err := cast.ToBoolE(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return b
	}
	integer := func(key string) int {
		i, err := cast.ToIntE(v.Get(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return i
	}

	policy, err := ParseClickPolicy(str("game.click_policy"))
	if err != nil {
		errs = append(errs, err)
	}
	seed, err := cast.ToUint64E(v.Get("game.seed"))
	if err != nil {
		errs = append(errs, fmt.Errorf("game.seed: %w", err))
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:         str("http.addr"),
			SSEKeepAlive: dur("http.sse_keepalive"),
			WriteTimeout: dur("http.write_timeout"),
		},
		Game: GameConfig{
			TickInterval:   dur("game.tick_interval"),
			StartPaused:    boolean("game.start_paused"),
			PauseWhenEmpty: boolean("game.pause_when_empty"),
			PauseKey:       str("game.pause_key"),
			Left: BindingConfig{
				UpKey:   str("game.left.up_key"),
				DownKey: str("game.left.down_key"),
			},
			Right: BindingConfig{
				UpKey:   str("game.right.up_key"),
				DownKey: str("game.right.down_key"),
			},
			PaddleHeight:     flt("game.paddle_height"),
			PaddleStep:       flt("game.paddle_step"),
			PaddleInset:      flt("game.paddle_inset"),
			BallSpeed:        flt("game.ball_speed"),
			BallRadius:       flt("game.ball_radius"),
			Deflection:       flt("game.deflection"),
			MaxVerticalSpeed: flt("game.max_vertical_speed"),
			ClickPolicy:      policy,
			Handicap:         boolean("game.handicap"),
			Seed:             seed,
		},
		Viewer: ViewerConfig{QueueSize: integer("viewer.queue_size")},
		Log: LogConfig{
			File:       str("log.file"),
			Level:      str("log.level"),
			MaxSizeMB:  integer("log.max_size_mb"),
			MaxBackups: integer("log.max_backups"),
			MaxAgeDays: integer("log.max_age_days"),
			Compress:   boolean("log.compress"),
			Stdout:     boolean("log.stdout"),
		},
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 检查取值范围与按键冲突
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}
	g := c.Game
	if g.TickInterval <= 0 {
		bad("game.tick_interval must be positive, got %s", g.TickInterval)
	}
	if g.PaddleHeight <= 0 || g.PaddleHeight >= 1 {
		bad("game.paddle_height must be in (0,1), got %v", g.PaddleHeight)
	}
	if g.PaddleStep < 0 {
		bad("game.paddle_step must not be negative, got %v", g.PaddleStep)
	}
	if g.PaddleInset < 0 || g.PaddleInset >= 0.5 {
		bad("game.paddle_inset must be in [0,0.5), got %v", g.PaddleInset)
	}
	if g.BallSpeed <= 0 {
		bad("game.ball_speed must be positive, got %v", g.BallSpeed)
	}
	if g.BallRadius < 0 || g.BallRadius >= 0.5 {
		bad("game.ball_radius must be in [0,0.5), got %v", g.BallRadius)
	}
	if g.MaxVerticalSpeed < 0 {
		bad("game.max_vertical_speed must not be negative, got %v", g.MaxVerticalSpeed)
	}
	if _, err := ParseClickPolicy(string(g.ClickPolicy)); err != nil {
		errs = append(errs, err)
	}
	if _, err := NewKeyTable(g.PauseKey, g.Left, g.Right); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if c.Viewer.QueueSize < minQueueSize {
		bad("viewer.queue_size must be at least %d, got %d", minQueueSize, c.Viewer.QueueSize)
	}
	return errors.Join(errs...)
}
