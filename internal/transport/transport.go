// Package transport supplies the Unix-domain and TCP listener acceptors
// that hand accepted connections to a peer.Handler.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"

	"odin-busd/internal/wire"
)

// PeerHandler is the subset of peer.Handler the acceptors depend on,
// kept as an interface here so transport never imports internal/peer
// directly and tests can hand the acceptors their own handler.
type PeerHandler interface {
	Handle(conn net.Conn, transport wire.TransportKind, source, port string)
}

// ServeUnix removes any pre-existing file at path, binds a Unix domain
// socket there, and accepts connections until ctx is cancelled. onAcceptErr,
// if non-nil, is invoked once per failed accept (used to drive a metric).
func ServeUnix(ctx context.Context, path string, handler PeerHandler, log *zap.Logger, onAcceptErr func()) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("transport: removing stale unix socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("transport: listen unix %s: %w", path, err)
	}
	return acceptLoop(ctx, ln, wire.TransportLocalIPC, path, handler, log, onAcceptErr)
}

// ServeTCP binds addr ("host:port") and accepts connections until ctx is
// cancelled. Nagle's algorithm is disabled on every accepted connection.
func ServeTCP(ctx context.Context, addr string, handler PeerHandler, log *zap.Logger, onAcceptErr func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen tcp %s: %w", addr, err)
	}
	return acceptLoop(ctx, ln, wire.TransportTCP, addr, handler, log, onAcceptErr)
}

func acceptLoop(ctx context.Context, ln net.Listener, kind wire.TransportKind, port string, handler PeerHandler, log *zap.Logger, onAcceptErr func()) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warn("accept failed", zap.String("transport", string(kind)), zap.Error(err))
				if onAcceptErr != nil {
					onAcceptErr()
				}
				return err
			}
		}

		source := ""
		if kind == wire.TransportTCP {
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			source = conn.RemoteAddr().String()
		}

		go handler.Handle(conn, kind, source, port)
	}
}
