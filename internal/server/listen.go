package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// ErrMissingCertificate is returned when the development certificate or
// key file does not exist.
var ErrMissingCertificate = errors.New("server: development certificate missing")

// ErrAlreadyServing is returned by a second call to Serve.
var ErrAlreadyServing = errors.New("server: already serving")

// Development certificate locations, relative to the working directory.
const (
	DefaultCertFile = "certs/localhost.pem"
	DefaultKeyFile  = "certs/localhost-key.pem"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Listen describes where and how to accept connections.
type Listen struct {
	Addr string
	// TLS switches the listener to HTTPS with HTTP/2 when non-nil.
	TLS *tls.Config
	// Listener replaces Addr when set.
	Listener net.Listener
}

type listenerState struct {
	mu  sync.Mutex
	srv *http.Server
}

// LoadDevCertificate loads the local development certificate. A missing
// file is reported as ErrMissingCertificate; there is no plaintext
// fallback.
func LoadDevCertificate(certFile, keyFile string) (*tls.Config, error) {
	for _, f := range []string{certFile, keyFile} {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrMissingCertificate, f)
			}
			return nil, fmt.Errorf("server: stat %s: %w", f, err)
		}
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("server: load certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Serve accepts connections until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) Serve(ctx context.Context, l Listen) error {
	srv := &http.Server{
		Addr:              l.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          zap.NewStdLog(s.logger.Logger),
	}

	if l.TLS != nil {
		srv.TLSConfig = l.TLS.Clone()
		if err := http2.ConfigureServer(srv, &http2.Server{IdleTimeout: idleTimeout}); err != nil {
			return fmt.Errorf("server: configure http2: %w", err)
		}
	}

	s.listener.mu.Lock()
	if s.listener.srv != nil {
		s.listener.mu.Unlock()
		return ErrAlreadyServing
	}
	s.listener.srv = srv
	s.listener.mu.Unlock()

	ln := l.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", l.Addr)
		if err != nil {
			return fmt.Errorf("server: listen %s: %w", l.Addr, err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("tls", l.TLS != nil),
			zap.Bool("development", s.opts.Development),
		)
		if l.TLS != nil {
			errCh <- srv.ServeTLS(ln, "", "")
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.listener.mu.Lock()
	srv := s.listener.srv
	s.listener.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
