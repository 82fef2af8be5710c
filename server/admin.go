package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/invopop/jsonschema"
)

// AdminConfig 热更新的可调参数，字段为空表示不修改
type AdminConfig struct {
	PaddleStep       *float64 `json:"paddle_step,omitempty" jsonschema:"minimum=0"`
	BallSpeed        *float64 `json:"ball_speed,omitempty"`
	Deflection       *float64 `json:"deflection,omitempty"`
	MaxVerticalSpeed *float64 `json:"max_vertical_speed,omitempty" jsonschema:"minimum=0"`
	ClickPolicy      *string  `json:"click_policy,omitempty" jsonschema:"enum=none,enum=resume,enum=paddle"`
	Handicap         *bool    `json:"handicap,omitempty"`
}

func adminView(t Tuning) AdminConfig {
	policy := string(t.ClickPolicy)
	return AdminConfig{
		PaddleStep:       &t.PaddleStep,
		BallSpeed:        &t.BallSpeed,
		Deflection:       &t.Deflection,
		MaxVerticalSpeed: &t.MaxVerticalSpeed,
		ClickPolicy:      &policy,
		Handicap:         &t.Handicap,
	}
}

// apply 校验并写入；任一字段非法则整体不生效
func (c AdminConfig) apply(t *Tuning) error {
	if c.PaddleStep != nil {
		if *c.PaddleStep < 0 {
			return fmt.Errorf("%w: paddle_step must not be negative", ErrInvalidConfig)
		}
		t.PaddleStep = *c.PaddleStep
	}
	if c.BallSpeed != nil {
		if *c.BallSpeed <= 0 {
			return fmt.Errorf("%w: ball_speed must be positive", ErrInvalidConfig)
		}
		t.BallSpeed = *c.BallSpeed
	}
	if c.Deflection != nil {
		t.Deflection = *c.Deflection
	}
	if c.MaxVerticalSpeed != nil {
		if *c.MaxVerticalSpeed < 0 {
			return fmt.Errorf("%w: max_vertical_speed must not be negative", ErrInvalidConfig)
		}
		t.MaxVerticalSpeed = *c.MaxVerticalSpeed
	}
	if c.ClickPolicy != nil {
		p, err := ParseClickPolicy(*c.ClickPolicy)
		if err != nil {
			return err
		}
		t.ClickPolicy = p
	}
	if c.Handicap != nil {
		t.Handicap = *c.Handicap
	}
	return nil
}

// HandleAdminConfig 提供可调参数的读取与更新（热更新基本规则）
// GET /admin/config  返回当前参数
// POST /admin/config 以 JSON 载荷更新部分字段
func (a *App) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, adminView(a.Engine.Tuning()))
	case http.MethodPost:
		var body AdminConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		t, err := a.Engine.UpdateTuning(body.apply)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		Log.Infof("config updated: paddle_step=%.3f ball_speed=%.3f deflection=%.3f max_vy=%.3f click=%s handicap=%v",
			t.PaddleStep, t.BallSpeed, t.Deflection, t.MaxVerticalSpeed, t.ClickPolicy, t.Handicap)
		writeJSON(w, http.StatusOK, adminView(t))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAdminSchema GET /admin/config/schema 管理载荷的 JSON Schema
func (a *App) HandleAdminSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, adminSchema())
}

func adminSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false}
	schema := reflector.Reflect(new(AdminConfig))
	schema.Title = "Pong tuning"
	schema.Description = "Partial update accepted by POST /admin/config"
	return schema
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
