package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/internal/config"
	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/ledger"
	"github.com/opengraphlabs/layerinfer/internal/modelquery"
	"github.com/opengraphlabs/layerinfer/pkg/logger"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger
	level  zap.AtomicLevel
}

// bootstrap loads configuration and builds the logger. Flags named "package" and "network"
// override their configuration keys when set.
func bootstrap(cmd *cobra.Command, configPath string, logTo io.Writer) (*app, error) {
	loader := config.NewLoader(zap.NewNop())
	v := loader.Viper()
	for key, flag := range map[string]string{"ledger.package_id": "package", "ledger.network": "network"} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := loader.Load(paths...)
	if err != nil {
		return nil, err
	}

	log, level, err := logger.NewAdjustable(logTo, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	loader.SetLogger(log)
	return &app{cfg: cfg, loader: loader, logger: log, level: level}, nil
}

func addLedgerFlags(cmd *cobra.Command) {
	cmd.Flags().String("package", "", "deployed package id (overrides ledger.package_id)")
	cmd.Flags().String("network", "", "mainnet, testnet, devnet or localnet (overrides ledger.network)")
}

func (a *app) builder() (*inference.Builder, error) {
	return inference.NewBuilder(a.cfg.Ledger.PackageID, a.cfg.Ledger.ModuleName, a.cfg.Ledger.GasBudget)
}

func (a *app) dialLedger(ctx context.Context) (*ledger.Client, error) {
	signer := ledger.NewRemoteSigner(a.cfg.Ledger.SignerURL, a.cfg.Ledger.SignerTimeout, a.logger.Named("signer"))
	return ledger.Dial(ctx, ledger.Config{
		RPCURL:       a.cfg.Ledger.RPCURL,
		PollInterval: a.cfg.Ledger.PollInterval,
	}, signer, a.logger.Named("ledger"))
}

func (a *app) modelSource() *modelquery.Client {
	return modelquery.NewClient(a.cfg.Ledger.GraphQLURL, a.cfg.Ledger.PackageID, a.cfg.Ledger.QueryTimeout, a.logger.Named("modelquery"))
}

// setupTracing installs a global tracer provider exporting to w when tracing is enabled. The
// returned function flushes and stops it.
func (a *app) setupTracing(w io.Writer) (func(context.Context) error, error) {
	if !a.cfg.Tracing.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", a.cfg.Tracing.ServiceName))),
	)
	otel.SetTracerProvider(tp)
	a.logger.Info("Tracing enabled", zap.String("service", a.cfg.Tracing.ServiceName))
	return tp.Shutdown, nil
}
