package config

import (
	"os"
	"strconv"
	"strings"
)

// ENV override surface. Only operationally useful knobs are exposed; stream
// parameters stay file-only.
func applyEnv(cfg *FileConfig) {
	cfg.LogLevel = ParseString("MULTICAP_LOG_LEVEL", cfg.LogLevel)
	cfg.Recording.Mode = ParseString("MULTICAP_MODE", cfg.Recording.Mode)
	cfg.Recording.OutputRoot = ParseString("MULTICAP_OUTPUT_ROOT", cfg.Recording.OutputRoot)
	cfg.Recording.Duration = ParseInt("MULTICAP_DURATION", cfg.Recording.Duration)
	cfg.Recording.ReadyTimeout = ParseString("MULTICAP_READY_TIMEOUT", cfg.Recording.ReadyTimeout)
	if v, ok := os.LookupEnv("MULTICAP_LOCAL_DEBUG"); ok {
		b := parseBoolString(v, cfg.Recording.LocalDebug != nil && *cfg.Recording.LocalDebug)
		cfg.Recording.LocalDebug = &b
	}
	cfg.Camera.ToolPath = ParseString("MULTICAP_TOOL_PATH", cfg.Camera.ToolPath)
	cfg.Camera.Port = ParseInt("MULTICAP_WORKER_PORT", cfg.Camera.Port)
	cfg.Worker.ListenAddr = ParseString("MULTICAP_LISTEN", cfg.Worker.ListenAddr)
}

// ParseString returns the environment value for key, or fallback when unset
// or blank.
func ParseString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ParseInt returns the integer environment value for key, or fallback when
// unset or unparsable.
func ParseInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// ParseBool returns the boolean environment value for key, or fallback when
// unset or unparsable.
func ParseBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return parseBoolString(v, fallback)
}

func parseBoolString(v string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}
