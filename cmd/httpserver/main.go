package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/certificate-registry/auth"
	"github.com/ruteri/certificate-registry/cmd/flags"
	"github.com/ruteri/certificate-registry/common"
	"github.com/ruteri/certificate-registry/config"
	"github.com/ruteri/certificate-registry/events"
	"github.com/ruteri/certificate-registry/httpserver"
	"github.com/ruteri/certificate-registry/interfaces"
	"github.com/ruteri/certificate-registry/recordstore"
	"github.com/ruteri/certificate-registry/registry"
	"github.com/ruteri/certificate-registry/storage"
)

var cliFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.LogServiceFlagFn(common.PackageName),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "registry-server",
		Usage: "Serve the certificate registry API",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := config.LoadRelayConfig()
			if err != nil {
				logger.Error("Invalid configuration", "err", err)
				return err
			}

			ctx := context.Background()

			shutdownTracing, err := common.SetupTracing(ctx, common.PackageName, cfg.OTelEndpoint)
			if err != nil {
				logger.Error("Failed to set up tracing", "err", err)
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					logger.Error("Failed to flush traces", "err", err)
				}
			}()

			sinks := []interfaces.EventSink{events.NewLogSink(logger)}
			if len(cfg.KafkaBrokers) > 0 {
				kafka, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
				if err != nil {
					logger.Error("Failed to create Kafka sink", "err", err)
					return err
				}
				defer func() {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := kafka.Close(ctx); err != nil {
						logger.Error("Failed to flush registry events", "err", err)
					}
				}()
				logger.Info("Publishing registry events to Kafka",
					slog.Any("brokers", cfg.KafkaBrokers),
					slog.String("topic", cfg.KafkaTopic))
				sinks = append(sinks, kafka)
			}

			reg, err := openRegistry(ctx, cfg, events.NewMultiSink(sinks...), logger)
			if err != nil {
				return err
			}

			documents, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(cfg.StorageLocations())
			if err != nil {
				logger.Error("Failed to create document storage", "err", err)
				return err
			}

			records, err := recordstore.Open(ctx, cfg.DatabaseURI)
			if err != nil {
				logger.Error("Failed to open record store", "err", err)
				return err
			}
			defer records.Close()

			var replay auth.ReplayGuard = auth.NewMemoryReplayGuard()
			if cfg.RedisURL != "" {
				redisGuard, err := auth.OpenRedisReplayGuard(ctx, cfg.RedisURL)
				if err != nil {
					logger.Error("Failed to connect to Redis", "err", err)
					return err
				}
				defer redisGuard.Close()
				replay = redisGuard
			}
			verifier := auth.NewVerifier(cfg.AuthMaxSkew, replay)

			handler := httpserver.NewHandler(reg, documents, records, verifier, logger)
			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				slog.String("mode", cfg.Mode),
				slog.String("policy", reg.Policy().String()))
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// openRegistry returns the in-process ledger or a client of the deployed
// contract, depending on REGISTRY_MODE.
func openRegistry(ctx context.Context, cfg config.RelayConfig, sink interfaces.EventSink, logger *slog.Logger) (interfaces.CertificateRegistry, error) {
	policy, err := cfg.IssuancePolicy()
	if err != nil {
		return nil, err
	}

	if cfg.Mode == config.ModeMemory {
		admin, err := cfg.AdminIdentity()
		if err != nil {
			return nil, err
		}
		logger.Info("Using in-memory registry", slog.String("admin", admin.String()))
		return registry.NewLedger(admin, policy, registry.WithEventSink(sink), registry.WithLogger(logger))
	}

	logger.Info("Connecting to Ethereum RPC", "address", cfg.Chain.BlockchainURL)
	ethClient, err := ethclient.Dial(cfg.Chain.BlockchainURL)
	if err != nil {
		logger.Error("Failed to dial RPC", "err", err)
		return nil, err
	}

	chainID := big.NewInt(cfg.Chain.ChainID)
	if cfg.Chain.ChainID == 0 {
		if chainID, err = ethClient.ChainID(ctx); err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}

	keys, err := cfg.Chain.PrivateKeys()
	if err != nil {
		return nil, err
	}

	factory := registry.NewRegistryFactory(ethClient, ethClient, policy, logger)
	factory.SetConfirmTimeout(cfg.Chain.ConfirmTimeout)
	for _, key := range keys {
		opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("create transactor: %w", err)
		}
		logger.Info("Registered transactor", slog.String("address", opts.From.Hex()))
		factory.AddTransactor(opts)
	}

	contract, err := cfg.Chain.Contract()
	if err != nil {
		return nil, err
	}
	logger.Info("Using registry contract", slog.String("address", contract.Hex()))
	return factory.RegistryFor(interfaces.Identity(contract))
}
