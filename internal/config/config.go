/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabaseSQLite   DatabaseBackend = "sqlite"
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
)

// Config covers process level configuration read from environment variables.
// Listen ports are read once here and never reconfigured at runtime.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	TCPPort     int
	UDPPort     int

	DBBackend DatabaseBackend
	DBDSN     string
	MediaRoot string

	// Playback engine subprocess
	EngineBin  string
	EngineArgs []string

	// Optional Redis mirror for state deltas (empty disables it)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	mediaRoot := getEnv("VP_MEDIA_ROOT", "./media")

	cfg := &Config{
		Environment: getEnv("VP_ENV", "development"),
		HTTPBind:    getEnv("VP_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("VP_HTTP_PORT", 3000),
		TCPPort:     getEnvInt("VP_TCP_PORT", 9090),
		UDPPort:     getEnvInt("VP_UDP_PORT", 9091),
		DBBackend:   DatabaseBackend(getEnv("VP_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("VP_DB_DSN", ""),
		MediaRoot:   mediaRoot,
		EngineBin:   getEnv("VP_ENGINE_BIN", "vp-player"),

		RedisAddr:     getEnv("VP_REDIS_ADDR", ""),
		RedisPassword: getEnv("VP_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("VP_REDIS_DB", 0),
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("VP_DB_DSN is required for backend %s", cfg.DBBackend)
		}
		cfg.DBDSN = filepath.Join(mediaRoot, "vp-app.db")
	}

	for _, port := range []int{cfg.HTTPPort, cfg.TCPPort, cfg.UDPPort} {
		if port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid listen port %d", port)
		}
	}
	if cfg.HTTPPort == cfg.TCPPort {
		return nil, fmt.Errorf("HTTP and TCP ports collide on %d", cfg.HTTPPort)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
