// Package server runs the UDP listener loop that turns inbound bytes into
// decoded requests, hands them to a Responder, and writes back whatever
// reply (if any) comes out the other side. Grounded in the teacher's
// App.Start/Stop lifecycle and per-listener goroutine supervision, adapted
// from insomniacslk/dhcp's server4 wrapper to this module's own codec.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lion7/dhcpd/internal/dhcp4"
	"github.com/lion7/dhcpd/internal/lease"
	"github.com/lion7/dhcpd/internal/txn"
)

const (
	serverPort       = 67
	clientPort       = 68
	watchoutPeriod   = 100 * time.Millisecond
	checkpointPeriod = 30 * time.Second
	maxDatagramSize  = 1500
)

// Responder answers a decoded request with a reply to send back, or nil to
// drop silently.
type Responder interface {
	Respond(req *dhcp4.Message) (*dhcp4.Message, error)
}

// Server owns one UDP listener per configured interface address, the
// transaction watchout ticker, and the lease store's checkpoint ticker.
type Server struct {
	addrs     []*net.UDPAddr
	responder Responder
	txns      *txn.Manager
	store     *lease.SQLiteStore
	logger    *zap.Logger
	accessLog *zap.Logger

	conns []*net.UDPConn
}

// New builds a Server bound to addrs once Run is called. store may be nil
// if the configured Lease Store doesn't support checkpointing.
func New(addrs []*net.UDPAddr, responder Responder, txns *txn.Manager, store *lease.SQLiteStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addrs:     addrs,
		responder: responder,
		txns:      txns,
		store:     store,
		logger:    logger,
		accessLog: logger.Named("access"),
	}
}

// Run binds every configured address and serves until ctx is canceled or a
// listener fails fatally, at which point every other listener and the
// supervisory goroutines are torn down too.
func (s *Server) Run(ctx context.Context) error {
	for _, addr := range s.addrs {
		conn, err := net.ListenUDP("udp4", addr)
		if err != nil {
			s.closeAll()
			return fmt.Errorf("server: listening on %s: %w", addr, err)
		}
		s.conns = append(s.conns, conn)
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, conn := range s.conns {
		conn := conn
		group.Go(func() error {
			return s.serve(gctx, conn)
		})
	}
	group.Go(func() error {
		return s.runWatchout(gctx)
	})
	if s.store != nil {
		group.Go(func() error {
			return s.runCheckpoint(gctx)
		})
	}

	s.logger.Info("server running", zap.Stringers("addresses", s.addrs))
	err := group.Wait()
	s.closeAll()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) closeAll() {
	for _, conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) serve(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: reading from %s: %w", conn.LocalAddr(), err)
		}
		s.handle(conn, peer, append([]byte(nil), buf[:n]...))
	}
}

func (s *Server) handle(conn *net.UDPConn, peer *net.UDPAddr, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered from panic handling packet, dropping", zap.Stringer("peer", peer), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	var written int
	var msgType dhcp4.MessageType

	req, err := dhcp4.Decode(data)
	if err != nil {
		s.logger.Debug("dropping malformed packet", zap.Stringer("peer", peer), zap.Error(err))
		return
	}
	if mt, ok := req.Options.MessageType(); ok {
		msgType = mt
	}

	defer func() {
		s.accessLog.Info("handled request",
			zap.Stringer("peer", peer),
			zap.Stringer("message_type", msgType),
			zap.Int("bytes_written", written),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	resp, err := s.responder.Respond(req)
	if err != nil {
		s.logger.Error("responder failed", zap.Error(err))
		return
	}
	if resp == nil {
		return
	}

	out, err := resp.Encode()
	if err != nil {
		s.logger.Error("failed to encode reply", zap.Error(err))
		return
	}

	dest := replyDestination(req, resp, peer)
	n, err := conn.WriteToUDP(out, dest)
	if err != nil {
		s.logger.Error("failed to write reply", zap.Stringer("dest", dest), zap.Error(err))
		return
	}
	written = n
}

// replyDestination picks where to send resp: to the relay agent if giaddr
// is set, to the client's new address if the request came from the
// all-zeros broadcast address, or straight back to the peer otherwise.
func replyDestination(req, resp *dhcp4.Message, peer *net.UDPAddr) *net.UDPAddr {
	if !req.GIAddr.IsUnspecified() {
		return &net.UDPAddr{IP: req.GIAddr, Port: serverPort}
	}
	if !resp.YIAddr.IsUnspecified() && peer.IP.IsUnspecified() {
		return &net.UDPAddr{IP: resp.YIAddr, Port: clientPort}
	}
	return peer
}

func (s *Server) runWatchout(ctx context.Context) error {
	ticker := time.NewTicker(watchoutPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.txns.Watchout()
		}
	}
}

func (s *Server) runCheckpoint(ctx context.Context) error {
	ticker := time.NewTicker(checkpointPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.store.Checkpoint(); err != nil {
				s.logger.Warn("lease store checkpoint failed", zap.Error(err))
			}
		}
	}
}
