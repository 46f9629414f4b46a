package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// ScriptConfig declares a shell hook.
type ScriptConfig struct {
	ID      string        `mapstructure:"id" json:"id" yaml:"id"`
	Event   string        `mapstructure:"event" json:"event" yaml:"event"`
	Script  string        `mapstructure:"script" json:"script" yaml:"script"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	Enabled bool          `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}

// ScriptHook turns a shell script into a hook. The event and context are exported as
// CALLGUARD_HOOK_* environment variables. A non-zero exit status is a hook failure; if
// the script prints a JSON object on stdout it is decoded into the hook's Result.
func ScriptHook(cfg ScriptConfig) (Func, error) {
	if strings.TrimSpace(cfg.Event) == "" {
		return nil, fmt.Errorf("hook event is required")
	}
	if strings.TrimSpace(cfg.Script) == "" {
		return nil, fmt.Errorf("hook script is required for event %q", cfg.Event)
	}

	return func(ctx context.Context, hc *Context) (*Result, error) {
		runCtx := ctx
		cancel := func() {}
		if cfg.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		defer cancel()

		cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cfg.Script)
		cmd.Env = buildHookEnvironment(hc)

		var stderr strings.Builder
		cmd.Stderr = &stderr
		output, err := cmd.Output()
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("hook script failed: %w: %s", err, msg)
			}
			return nil, fmt.Errorf("hook script failed: %w", err)
		}

		return decodeScriptResult(output)
	}, nil
}

type scriptResult struct {
	Skip     bool                   `json:"skip"`
	Args     map[string]interface{} `json:"args"`
	Output   interface{}            `json:"output"`
	Approved *bool                  `json:"approved"`
	Reason   string                 `json:"reason"`
	Pause    *bool                  `json:"pause"`
	Values   map[string]interface{} `json:"values"`
}

func decodeScriptResult(output []byte) (*Result, error) {
	text := strings.TrimSpace(string(output))
	if !strings.HasPrefix(text, "{") {
		return nil, nil
	}

	var sr scriptResult
	if err := json.Unmarshal([]byte(text), &sr); err != nil {
		return nil, fmt.Errorf("decode hook script result: %w", err)
	}
	return &Result{
		Skip:     sr.Skip,
		Args:     sr.Args,
		Output:   sr.Output,
		Approved: sr.Approved,
		Reason:   sr.Reason,
		Pause:    sr.Pause,
		Values:   sr.Values,
	}, nil
}

func buildHookEnvironment(hc *Context) []string {
	env := append([]string{}, os.Environ()...)
	if hc == nil {
		return env
	}

	env = append(env,
		"CALLGUARD_HOOK_EVENT="+string(hc.Event),
		"CALLGUARD_HOOK_EXECUTION_ID="+hc.ExecutionID,
	)
	if hc.ToolName != "" {
		env = append(env, "CALLGUARD_HOOK_TOOL="+hc.ToolName)
	}
	if len(hc.Args) > 0 {
		if data, err := json.Marshal(hc.Args); err == nil {
			env = append(env, "CALLGUARD_HOOK_ARGS="+string(data))
		}
	}
	if hc.Err != nil {
		env = append(env, "CALLGUARD_HOOK_ERROR="+hc.Err.Error())
	}

	keys := make([]string, 0, len(hc.Data))
	for k := range hc.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, "CALLGUARD_HOOK_DATA_"+normalizeEnvKey(key)+"="+fmt.Sprintf("%v", hc.Data[key]))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	builder := strings.Builder{}
	builder.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}
