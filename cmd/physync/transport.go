package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/OCAP2/physync/internal/config"
	"github.com/OCAP2/physync/internal/transport"
	"github.com/OCAP2/physync/internal/transport/wstransport"
)

// openTransport builds the transport named in cfg. The returned closer
// releases it and anything serving it.
func openTransport(cfg config.TransportConfig, logger *slog.Logger) (transport.Transport, func() error, error) {
	switch cfg.Type {
	case "udp":
		u, err := transport.ListenUDP(cfg.Listen, cfg.Peers, cfg.InboxLimit, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("UDP transport listening", "addr", u.LocalAddr().String(), "peers", u.Peers())
		return u, u.Close, nil

	case "websocket":
		if cfg.URL != "" {
			c, err := wstransport.Dial(cfg.URL, cfg.InboxLimit, wstransport.WithLogger(logger))
			if err != nil {
				return nil, nil, err
			}
			logger.Info("WebSocket transport connected", "url", cfg.URL)
			return c, c.Close, nil
		}
		return serveWebSocket(cfg, logger)

	default:
		return nil, nil, fmt.Errorf("unknown transport: %q", cfg.Type)
	}
}

func serveWebSocket(cfg config.TransportConfig, logger *slog.Logger) (transport.Transport, func() error, error) {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, nil, fmt.Errorf("websocket listen %s: %w", cfg.Listen, err)
	}

	hub := wstransport.NewHub(cfg.InboxLimit, logger)
	mux := http.NewServeMux()
	mux.Handle("/physync", hub)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket server stopped", "error", err)
		}
	}()
	logger.Info("WebSocket transport listening", "addr", ln.Addr().String(), "path", "/physync")

	closer := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(hub.Close(), srv.Shutdown(ctx))
	}
	return hub, closer, nil
}
