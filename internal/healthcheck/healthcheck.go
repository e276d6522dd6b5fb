// Package healthcheck exposes a minimal liveness endpoint so supervisors can
// probe the agent without touching Instagram or the backend.
package healthcheck

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// NormalizeListen turns a bare port into a listen address. An empty value
// stays empty, which disables the server.
func NormalizeListen(listen string) string {
	listen = strings.TrimSpace(listen)
	if listen == "" {
		return ""
	}
	if !strings.Contains(listen, ":") {
		return ":" + listen
	}
	return listen
}

// StartServer binds listen and serves GET /healthz until the caller shuts
// the returned server down. Binding failures surface immediately; serve
// failures after that are logged, never fatal.
func StartServer(ctx context.Context, logger *slog.Logger, listen, component string) (*http.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Handler: mux, BaseContext: func(net.Listener) context.Context { return ctx }}

	go func() {
		logger.Info("healthcheck_listening", "addr", ln.Addr().String(), "component", component)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("healthcheck_serve_failed", "addr", listen, "error", err.Error())
		}
	}()

	return srv, nil
}
