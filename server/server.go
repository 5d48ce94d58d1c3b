// Package server exposes the materials manager operations over HTTP for
// framing layers that run out of process. It is a thin translation shim; all
// semantics live in the cmm and keyring packages.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fabiomadge/materialproviders/cmm"
	"github.com/fabiomadge/materialproviders/config"
)

type (
	ServerProvider interface {
		Start() error
		Stop() error
	}

	httpServerProvider struct {
		host   string
		port   int
		server *http.Server
		logger *zap.Logger
	}
)

func newServerProvider(lc fx.Lifecycle, configProvider config.ConfigProvider, logger *zap.Logger,
	materialsManager cmm.MaterialsManager) (ServerProvider, error) {

	provider := &httpServerProvider{
		host:   configProvider.GetServiceConfig().Server.Host,
		port:   configProvider.GetServiceConfig().Server.Port,
		logger: logger,
	}

	h := &handler{materialsManager: materialsManager, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v1/materials/encryption", h.handleEncryptionMaterials)
	r.Post("/v1/materials/decryption", h.handleDecryptMaterials)

	provider.server = &http.Server{
		Addr:    provider.getHostPort(),
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return provider.Start()
		},
		OnStop: func(ctx context.Context) error {
			return provider.Stop()
		},
	})

	return provider, nil
}

func (s *httpServerProvider) Start() error {
	lis, err := net.Listen("tcp", s.getHostPort())
	if err != nil {
		return err
	}

	s.logger.Info(
		"materials server started",
		zap.String("host", s.host),
		zap.Int("port", s.port),
	)

	go s.server.Serve(lis)

	return nil
}

func (s *httpServerProvider) Stop() error {
	return s.server.Shutdown(context.Background())
}

func (s *httpServerProvider) getHostPort() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}
