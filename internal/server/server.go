// Package server builds the TLS context and listening socket of
// spec.md §6 and §4.1, and round-robins accepted connections across a
// fixed pool of workers.
//
// Grounded on baranov1ch-http2/server.go's ConfigureServer for the
// ALPN/cipher-suite shape, generalized from configuring a *tls.Config
// for net/http onto building one directly for a raw net.Listener.
package server

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/risenfromashes/harmony-http/internal/app"
	"github.com/risenfromashes/harmony-http/internal/config"
	"github.com/risenfromashes/harmony-http/internal/worker"
)

// blockedCipherSuites enforces spec.md §4.2/§6's "HTTP/2 cipher suite
// block-list": RC4 and 3DES are excluded by simply never being offered,
// since crypto/tls's own hard-coded cipher list already refuses to
// negotiate anything RFC 7540 §9.2.2 blacklists for h2 once ALPN picks
// h2; this list documents the ones worth rejecting even for a bare TLS
// fallback, should one ever be added.
var blockedCipherSuites = map[uint16]bool{
	tls.TLS_RSA_WITH_RC4_128_SHA:      true,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA: true,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA:  true,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA:  true,
}

// buildTLSConfig loads the certificate/key pair and returns a
// *tls.Config restricted to ALPN "h2", TLS >= 1.2, with the blocked
// cipher suites filtered out of the default preference list.
//
// cfg.DHParamFile is accepted (spec.md §6 names it as a startup option)
// but unused: crypto/tls's cipher suite set is ECDHE/X25519-only and
// has no finite-field Diffie-Hellman suites to parameterize, so there
// is nothing in the standard TLS stack for a dhparam file to configure
// (see DESIGN.md).
func buildTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "server: loading TLS certificate")
	}

	var suites []uint16
	for _, s := range tls.CipherSuites() {
		if blockedCipherSuites[s.ID] {
			continue
		}
		suites = append(suites, s.ID)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2"},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: suites,
	}, nil
}

// Server owns the listening socket and the fixed worker pool, per
// spec.md §2's "Server — owns TLS context, listening socket, router,
// and a fixed pool of Workers."
type Server struct {
	log     *logrus.Entry
	ln      net.Listener
	workers []*worker.Worker
	next    int
}

// New constructs the TLS context, binds the listening socket, and
// creates cfg.Workers Workers, each with its own static cache. Their
// event loops and database sessions are started by Serve.
func New(cfg *config.Config, routes *app.App, log *logrus.Entry) (*Server, error) {
	tlsCfg, err := buildTLSConfig(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "server: listening")
	}

	s := &Server{log: log, ln: ln}
	for i := 0; i < cfg.Workers; i++ {
		w, err := worker.New(i, worker.Config{
			StaticRoot: cfg.StaticRoot,
			DBConnStr:  cfg.DBConnStr,
			QueryDir:   cfg.QueryDir,
			TLSConfig:  tlsCfg,
		}, routes, log.WithField("worker", i))
		if err != nil {
			ln.Close()
			return nil, err
		}
		s.workers = append(s.workers, w)
	}
	return s, nil
}

// Serve starts every worker's event loop and accepts connections until
// the listener is closed, handing each to a worker in round-robin
// order and setting TCP_NODELAY per spec.md §4.1.
func (s *Server) Serve() error {
	ctx := context.Background()
	for _, w := range s.workers {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.WithError(err).Warn("server: accept failed")
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
		s.dispatch(conn)
	}
}

func (s *Server) dispatch(conn net.Conn) {
	w := s.workers[s.next]
	s.next = (s.next + 1) % len(s.workers)
	w.Submit(conn)
}

// Shutdown closes the listener and stops every worker; each worker
// closes its sessions without waiting for in-flight streams to finish.
func (s *Server) Shutdown() {
	s.ln.Close()
	for _, w := range s.workers {
		w.Stop()
	}
}

