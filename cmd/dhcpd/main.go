// Command dhcpd runs a standalone DHCPv4 server: a single binary, no
// required flags, reading its configuration from two YAML files and
// exiting 0 on a clean shutdown or non-zero on a configuration or bind
// error.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lion7/dhcpd/internal/alloc"
	"github.com/lion7/dhcpd/internal/config"
	"github.com/lion7/dhcpd/internal/lease"
	"github.com/lion7/dhcpd/internal/netiface"
	"github.com/lion7/dhcpd/internal/responder"
	"github.com/lion7/dhcpd/internal/server"
	"github.com/lion7/dhcpd/internal/subnet"
	"github.com/lion7/dhcpd/internal/txn"
)

const (
	mainConfigPath    = "/etc/dhcpd/main.yml"
	subnetsConfigPath = "/etc/dhcpd/subnets.yml"
	leaseStorePath    = "/var/lib/dhcpd/leases.db"
	serverPort        = 67
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger) error {
	mainPath := envOr("DHCPD_MAIN_CONFIG", mainConfigPath)
	subnetsPath := envOr("DHCPD_SUBNETS_CONFIG", subnetsConfigPath)
	storePath := envOr("DHCPD_LEASE_STORE", leaseStorePath)

	mainCfg, err := config.LoadMain(mainPath)
	if err != nil {
		return err
	}

	identity, err := netiface.Resolve(mainCfg.Network.Interface)
	if err != nil {
		return err
	}
	logger.Info("resolved server identity",
		zap.String("interface", identity.Name),
		zap.Stringer("server_id", identity.ServerID))

	store, err := lease.OpenSQLiteStore(storePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Checkpoint(); err != nil {
			logger.Warn("final checkpoint failed", zap.Error(err))
		}
	}()

	// subnets is the single live Subnet Map every collaborator below shares:
	// the Static Allocator looks addresses up in it, the config Watcher
	// populates and reloads it in place, and the Dynamic Allocator and
	// Responder allocate out of it.
	subnets := subnet.NewMap()
	staticAllocator := alloc.NewStaticAllocator(subnets)
	watcher, err := config.NewWatcher(subnetsPath, subnets, staticAllocator, logger.Named("config"))
	if err != nil {
		return err
	}
	stopWatch, err := watcher.Watch()
	if err != nil {
		return err
	}
	defer func() { _ = stopWatch() }()

	dynamicAllocator := alloc.NewDynamicAllocator(subnets, logger.Named("alloc.dynamic"))
	txns := txn.NewManager(store, identity.ServerID, logger.Named("txn"))

	r := responder.New(subnets, staticAllocator, dynamicAllocator, txns, store, identity.ServerID, true, logger.Named("responder"))

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: serverPort}
	srv := server.New([]*net.UDPAddr{addr}, r, txns, store, logger.Named("server"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}
