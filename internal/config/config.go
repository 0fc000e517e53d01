package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service reads.
type Config struct {
	Server ServerConfig
	Chat   ChatConfig
	Exec   ExecConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	execCfg, err := loadExecConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Chat: chat, Exec: execCfg}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// ChatConfig tunes the per-session chat log.
type ChatConfig struct {
	HistoryLimit int
}

func loadChatConfig() (ChatConfig, error) {
	limit := 150
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		if *override < 1 {
			limit = 1
		} else {
			limit = *override
		}
	}
	return ChatConfig{HistoryLimit: limit}, nil
}

// ExecConfig describes how buffer contents are executed.
type ExecConfig struct {
	Command    string
	Args       []string
	FileSuffix string
	Timeout    time.Duration
	UsePTY     bool
}

func loadExecConfig() (ExecConfig, error) {
	timeoutSeconds := 30
	if override, err := parseOptionalIntEnv("EXEC_TIMEOUT"); err != nil {
		return ExecConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return ExecConfig{}, fmt.Errorf("invalid EXEC_TIMEOUT value: %d", *override)
		}
		timeoutSeconds = *override
	}

	usePTY, err := parseBoolEnv("EXEC_PTY", false)
	if err != nil {
		return ExecConfig{}, err
	}

	var args []string
	if raw := strings.TrimSpace(os.Getenv("EXEC_ARGS")); raw != "" {
		args = strings.Fields(raw)
	}

	return ExecConfig{
		Command:    getEnvOrDefault("EXEC_COMMAND", "python3"),
		Args:       args,
		FileSuffix: getEnvOrDefault("EXEC_FILE_SUFFIX", ".py"),
		Timeout:    time.Duration(timeoutSeconds) * time.Second,
		UsePTY:     usePTY,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
