package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonbridge/tonbridge/core/logx"
	"github.com/tonbridge/tonbridge/core/secret"
	"github.com/tonbridge/tonbridge/internal/config"
	"github.com/tonbridge/tonbridge/internal/drain"
	"github.com/tonbridge/tonbridge/internal/metrics"
	"github.com/tonbridge/tonbridge/internal/server"
	"github.com/tonbridge/tonbridge/internal/session"
	"github.com/tonbridge/tonbridge/internal/walletd"
	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.DaemonConfig
	// Resolve config with precedence: defaults < file < env < args
	cfg.SetDefaults()
	cfg.ApplyEnv() // allows CONFIG_FILE from env
	// Allow --config to override file path before loading it
	for i := 1; i < len(os.Args); i++ {
		a := os.Args[i]
		if a == "--config" && i+1 < len(os.Args) {
			cfg.ConfigFile = os.Args[i+1]
			break
		}
		if strings.HasPrefix(a, "--config=") {
			cfg.ConfigFile = strings.TrimPrefix(a, "--config=")
			break
		}
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	// Overlay env (after file) and then bind flags; args parsed below
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	flag.Parse()
	if *showVersion {
		fmt.Printf("tonbridged version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store session.Store
	if cfg.RedisAddr != "" {
		rs, err := session.NewRedisStore(cfg.RedisAddr, cfg.SessionTTL)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		store = rs
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis session store")
	} else {
		store = session.NewMemoryStore(cfg.SessionTTL)
	}

	network := walletd.NetworkMainnet
	if cfg.Testnet {
		network = walletd.NetworkTestnet
	}
	if cfg.WalletAddress == "" {
		logx.Log.Warn().Msg("no wallet address configured; connect requests will fail")
	}
	accounts := walletd.AccountProviderFunc(func(context.Context) (walletd.Account, error) {
		if cfg.WalletAddress == "" {
			return walletd.Account{}, errors.New("no wallet account configured")
		}
		return walletd.Account{
			Address:   cfg.WalletAddress,
			PublicKey: cfg.WalletPubKey,
			Network:   network,
		}, nil
	})

	router := walletd.New(walletd.Config{
		Store:    store,
		Accounts: accounts,
		Manifest: walletd.HTTPManifestLoader(nil),
		Logger:   &logx.Log,
	})
	registerSigningMethods(router, cfg.MaxMessages)

	reg := server.NewRegistry(server.Config{
		ClientKey:      cfg.ClientKey,
		RequestTimeout: cfg.RequestTimeout,
	}, router, drain.IsDraining)
	preg := prometheus.NewRegistry()
	metrics.Register(preg)
	handler := server.New(server.Options{AllowedOrigins: cfg.AllowedOrigins, Metrics: preg}, reg, store)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	if cfg.MetricsAddr != srv.Addr {
		msrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(preg, promhttp.HandlerOpts{})}
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics serve")
			}
		}()
		defer func() { _ = msrv.Close() }()
	}
	logx.Log.Info().
		Int("port", cfg.Port).
		Str("client_key", secret.Mask(cfg.ClientKey)).
		Str("app", cfg.AppName+" "+cfg.AppVersion).
		Str("network", network).
		Msg("tonbridged starting")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Log.Fatal().Err(err).Msg("serve")
		}
	case <-ctx.Done():
		logx.Log.Info().Msg("shutting down")
		drain.Start()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logx.Log.Error().Err(err).Msg("shutdown")
		}
	}
}

// registerSigningMethods wires the wallet method handlers. No signing
// backend ships with the daemon, so requests are validated and then
// declined; an embedding wallet replaces these with real handlers.
func registerSigningMethods(router *walletd.Router, maxMessages int) {
	router.RegisterMethod(proto.MethodSendTransaction, func(_ context.Context, clientID string, params []json.RawMessage) (json.RawMessage, *proto.Error) {
		var tx struct {
			Messages []json.RawMessage `json:"messages"`
		}
		if len(params) == 0 || json.Unmarshal(params[0], &tx) != nil {
			return nil, &proto.Error{Code: proto.CodeBadRequest, Message: "Bad request"}
		}
		if len(tx.Messages) == 0 || len(tx.Messages) > maxMessages {
			return nil, &proto.Error{Code: proto.CodeBadRequest, Message: fmt.Sprintf("Expected 1..%d messages", maxMessages)}
		}
		logx.Log.Info().Str("client", clientID).Int("messages", len(tx.Messages)).Msg("sendTransaction declined: no signer configured")
		return nil, &proto.Error{Code: proto.CodeUserDeclined, Message: "User declined the transaction"}
	})
	router.RegisterMethod(proto.MethodSignData, func(_ context.Context, clientID string, params []json.RawMessage) (json.RawMessage, *proto.Error) {
		if len(params) == 0 {
			return nil, &proto.Error{Code: proto.CodeBadRequest, Message: "Bad request"}
		}
		logx.Log.Info().Str("client", clientID).Msg("signData declined: no signer configured")
		return nil, &proto.Error{Code: proto.CodeUserDeclined, Message: "User declined the request"}
	})
}
