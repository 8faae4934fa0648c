/*
Copyright 2023 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command webterm runs the SSH terminal gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zmb3/webterm/lib/assist"
	"github.com/zmb3/webterm/lib/auth"
	"github.com/zmb3/webterm/lib/config"
	"github.com/zmb3/webterm/lib/jwt"
	"github.com/zmb3/webterm/lib/limiter"
	"github.com/zmb3/webterm/lib/secret"
	"github.com/zmb3/webterm/lib/services/local"
	"github.com/zmb3/webterm/lib/sshpool"
	"github.com/zmb3/webterm/lib/web"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Gateway exited with an error.")
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return trace.Wrap(err)
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField(trace.Component, "webterm")

	vault, err := secret.New(secret.Config{Key: cfg.EncryptionKey})
	if err != nil {
		return trace.Wrap(err)
	}

	storage, err := local.New(local.Config{Path: cfg.DatabasePath, Vault: vault})
	if err != nil {
		return trace.Wrap(err)
	}
	defer storage.Close()

	key, err := jwt.New(&jwt.Config{Secret: cfg.TokenSecret})
	if err != nil {
		return trace.Wrap(err)
	}

	authServer, err := auth.New(auth.Config{Identity: storage, Key: key})
	if err != nil {
		return trace.Wrap(err)
	}

	lim, err := limiter.New(limiter.Config{
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMaxRequests,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	pool, err := sshpool.NewManager(sshpool.Config{})
	if err != nil {
		return trace.Wrap(err)
	}

	var bridge *assist.Bridge
	provider, err := assist.NewProviderFromEnv(cfg.AssistProvider, cfg.OpenAIKey, cfg.AnthropicKey)
	switch {
	case err == nil:
		if bridge, err = assist.New(assist.Config{Provider: provider}); err != nil {
			return trace.Wrap(err)
		}
		log.WithField("provider", provider.Name()).Info("Assistant enabled.")
	case trace.IsBadParameter(err):
		log.Info("Assistant disabled: no provider credentials configured.")
	default:
		return trace.Wrap(err)
	}

	handler, err := web.NewHandler(web.Config{
		Auth:       authServer,
		Profiles:   storage,
		Sessions:   storage,
		Queries:    storage,
		Pool:       pool,
		Assist:     bridge,
		Limiter:    lim,
		CORSOrigin: cfg.CORSOrigin,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ListenPort),
		Handler: handler,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		// The sweeper reaps idle connections until shutdown.
		return pool.Run(ctx)
	})
	group.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				lim.Prune()
			case <-ctx.Done():
				return nil
			}
		}
	})
	group.Go(func() error {
		log.WithField("port", cfg.ListenPort).Info("Gateway listening.")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return trace.Wrap(err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return trace.Wrap(server.Shutdown(shutdownCtx))
	})

	return trace.Wrap(group.Wait())
}
