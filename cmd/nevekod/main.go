// Package main provides the nevekod daemon - the marketplace and
// messaging core behind a hidden service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neveko-market/nevekod/internal/auth"
	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/contact"
	"github.com/neveko-market/nevekod/internal/dispute"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/message"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/order"
	"github.com/neveko-market/nevekod/internal/product"
	"github.com/neveko-market/nevekod/internal/proof"
	"github.com/neveko-market/nevekod/internal/server"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/user"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.neveko", "Data directory")
		releaseEnv  = flag.String("r", "dev", "Release environment (dev or prod)")
		appPort     = flag.Uint("port", 0, "Peer surface port, overrides config")
		walletRPC   = flag.String("monero-rpc-host", "", "monero-wallet-rpc URL, overrides config")
		daemonRPC   = flag.String("monero-rpc-daemon", "", "monerod URL, overrides config")
		rpcUser     = flag.String("monero-rpc-username", "", "Wallet RPC username, overrides config")
		rpcCred     = flag.String("monero-rpc-cred", "", "Wallet RPC credential, overrides config")
		i2pProxy    = flag.String("i2p-proxy-host", "", "i2p HTTP proxy URL, overrides config")
		clearFTS    = flag.Bool("clear-fts", false, "Drop the failed-to-send queue on startup")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("nevekod %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*dataDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// CLI flags take precedence over the config file
	cfg.DataDir = *dataDir
	cfg.Env = config.ReleaseEnv(*releaseEnv)
	if *appPort != 0 {
		cfg.AppPort = uint16(*appPort)
	}
	if *walletRPC != "" {
		cfg.Wallet.RPCURL = *walletRPC
	}
	if *daemonRPC != "" {
		cfg.Wallet.DaemonURL = *daemonRPC
	}
	if *rpcUser != "" {
		cfg.Wallet.Username = *rpcUser
	}
	if *rpcCred != "" {
		cfg.Wallet.Password = *rpcCred
	}
	if *i2pProxy != "" {
		cfg.I2P.ProxyURL = *i2pProxy
	}
	cfg.ClearFTS = *clearFTS
	cfg.Logging.Level = *logLevel

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(*dataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	dbName := "lmdb"
	if !cfg.IsProduction() {
		dbName = "test-lmdb"
	}
	db, err := storage.New(&storage.Config{DataDir: cfg.DataDir, Name: dbName})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer db.Close()
	log.Info("Storage initialized")

	// Message identity
	keys, err := neveko25519.LoadOrCreate(db)
	if err != nil {
		log.Fatal("Failed to load message keys", "error", err)
	}

	// Wallet client
	walletClient := wallet.NewClient(&wallet.Config{
		RPCURL:    cfg.Wallet.RPCURL,
		DaemonURL: cfg.Wallet.DaemonURL,
		Username:  cfg.Wallet.Username,
		Password:  cfg.Wallet.Password,
	})
	ensureAppWallet(ctx, walletClient, cfg, log)

	// Hidden-service transport
	transport, err := i2p.NewClient(cfg.I2P)
	if err != nil {
		log.Fatal("Failed to initialize i2p transport", "error", err)
	}
	go transport.RunConnectivityCheck(ctx)

	// Services
	users := user.NewService(db)
	auths, err := auth.NewService(db, walletClient, users, cfg)
	if err != nil {
		log.Fatal("Failed to initialize auth", "error", err)
	}
	proofs, err := proof.NewService(db, walletClient, transport, cfg)
	if err != nil {
		log.Fatal("Failed to initialize proof service", "error", err)
	}
	contacts := contact.NewService(db, walletClient, transport, keys, cfg)
	messages := message.NewService(db, contacts, proofs, transport, keys, walletClient)
	products := product.NewService(db)
	orders := order.NewService(db, walletClient, products, contacts, messages, transport, cfg)
	products.SetInUseCheck(orders.HasOpenOrdersFor)
	disputes := dispute.NewService(db, walletClient, proofs, transport)

	// Startup tasks
	if cfg.ClearFTS {
		log.Info("clearing failed-to-send queue")
		if err := messages.ClearFts(); err != nil {
			log.Warn("Failed to clear fts", "error", err)
		}
	}
	messages.StartRetry(ctx)
	disputes.StartAutoSettle(ctx)

	// Peer surface
	srv := server.NewServer(server.Deps{
		Config:   cfg,
		Wallet:   walletClient,
		I2P:      transport,
		Auth:     auths,
		Contacts: contacts,
		Proofs:   proofs,
		Messages: messages,
		Products: products,
		Orders:   orders,
		Disputes: disputes,
		Keys:     keys,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.AppPort)
	if err := srv.Start(addr); err != nil {
		log.Fatal("Failed to start server", "error", err)
	}

	printBanner(log, cfg, transport.Destination(), addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	cancel()
	if err := srv.Stop(); err != nil {
		log.Error("Error stopping server", "error", err)
	}
	log.Info("Goodbye!")
}

// ensureAppWallet opens or creates the process wallet on startup.
func ensureAppWallet(ctx context.Context, w *wallet.Client, cfg *config.Config, log *logging.Logger) {
	name := config.AppName
	password := cfg.WalletPassword()
	if w.OpenWallet(ctx, name, password) {
		w.CloseWallet(ctx, name, password)
		return
	}
	log.Info("fetching application wallet")
	if err := w.CreateWallet(ctx, name, password); err != nil {
		log.Error("failed to create wallet", "error", err)
		return
	}
	if w.OpenWallet(ctx, name, password) {
		if addr, err := w.GetAddress(ctx); err == nil {
			log.Info("app wallet address", "address", addr.Address)
		}
		w.CloseWallet(ctx, name, password)
	}
}

func printBanner(log *logging.Logger, cfg *config.Config, destination, addr string) {
	env := "dev"
	if cfg.IsProduction() {
		env = "prod"
	}
	log.Info("")
	log.Info("=================================================")
	log.Infof("  nevekod (%s)", env)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Destination: %s", destination)
	log.Infof("  API: http://%s", addr)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
