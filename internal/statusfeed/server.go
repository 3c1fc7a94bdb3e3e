package statusfeed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Path is the websocket endpoint.
const Path = "/status"

// Serve listens on addr and serves the hub until ctx is done. It refuses
// non-loopback addresses.
func Serve(ctx context.Context, addr string, hub *Hub, log *zap.Logger) error {
	ln, err := Listen(addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, hub, log)
}

// Listen opens a loopback listener on addr.
func Listen(addr string) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, errors.New("status feed must listen on a loopback address, got " + addr)
		}
	}
	return net.Listen("tcp", addr)
}

// ServeListener serves the hub on ln until ctx is done, then closes every
// client.
func ServeListener(ctx context.Context, ln net.Listener, hub *Hub, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle(Path, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("status feed listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		hub.Close()
		return err
	case <-ctx.Done():
	}
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
