/*
 * Copyright 2025 MindHaven, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/mindhaven/vitals/pkg/config"
	"github.com/mindhaven/vitals/pkg/core"
	vhttp "github.com/mindhaven/vitals/pkg/http"
	"github.com/mindhaven/vitals/pkg/lifecycle"
	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	// Parse command line flags
	configPath := flag.String("config", "/etc/vitals/core.json", "Path to core config file")
	flag.Parse()

	// Setup a context we can use for loading the config and running the server
	ctx := context.Background()

	// Step 1: Load configuration
	cfgLoader := config.NewConfig(nil)

	var cfg models.CoreServiceConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	// Step 2: Create logger from loaded config
	logConfig := cfg.Logging
	if logConfig == nil {
		// Use default config if not specified
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	coreLogger, err := lifecycle.CreateComponentLogger("core", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	server, err := core.NewServer(ctx, &cfg, coreLogger)
	if err != nil {
		return err
	}

	if cfg.ListenAddr != "" {
		go serveHTTP(cfg.ListenAddr, server, coreLogger)
	}

	// Run the core with lifecycle management
	return lifecycle.RunServer(ctx, &lifecycle.ServerOptions{
		ServiceName: cfg.ServiceName,
		Service:     server,
		Logger:      coreLogger,
	})
}

// serveHTTP exposes the metrics, health, and status surfaces of the
// running core over plain HTTP.
func serveHTTP(addr string, server *core.Server, log logger.Logger) {
	mux := http.NewServeMux()

	mux.Handle("/metrics", server.Metrics().Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		checks := server.HealthCheck(r.Context())

		status := http.StatusOK

		for _, check := range checks {
			if !check.Healthy {
				status = http.StatusServiceUnavailable

				break
			}
		}

		writeJSON(w, status, checks, log)
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, server.Status(), log)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, server.CurrentHealth(), log)
	})

	handler := vhttp.RequestLogger(log)(mux)
	handler = vhttp.APIKey(os.Getenv("API_KEY"), log)(handler)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	log.Info().Str("addr", addr).Msg("Serving metrics and status endpoints")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("HTTP server exited")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, log logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Error encoding response")
	}
}
