package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mtlprog/tokenize/internal/config"
	"github.com/mtlprog/tokenize/internal/database"
	"github.com/mtlprog/tokenize/internal/deploy"
	"github.com/mtlprog/tokenize/internal/funding"
	"github.com/mtlprog/tokenize/internal/horizon"
	"github.com/mtlprog/tokenize/internal/keypair"
	"github.com/mtlprog/tokenize/internal/metrics"
	"github.com/mtlprog/tokenize/internal/retry"
	"github.com/mtlprog/tokenize/internal/submit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// openDatabase connects to PostgreSQL and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	migrationsSub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating migrations sub-fs: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrationsSub); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return pool, nil
}

// pipeline holds the wired deployment components.
type pipeline struct {
	horizon      *horizon.Client
	submitter    *submit.Submitter
	orchestrator *deploy.Orchestrator
}

// newPipeline wires Horizon, funding, submission and orchestration from cfg. recorder and
// collector may be nil.
func newPipeline(cfg config.Config, recorder deploy.Recorder, collector *metrics.Collector) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	horizonClient := horizon.NewClient(cfg.HorizonURL, cfg.HorizonRetryMax, cfg.HorizonRetryBaseDelay,
		horizon.WithRateLimit(cfg.HorizonRateLimit))

	policy := funding.Policy{
		MaxRetries: cfg.FundingRetryMax,
		Backoff:    retry.Backoff{Base: cfg.FundingBaseDelay, Factor: 2, Max: cfg.FundingMaxDelay},
	}

	var funder funding.Funder
	if cfg.HasCustodyKeys() || !cfg.UsesFaucet() {
		funder = funding.NewReserveFunder(horizonClient, cfg.MinReserve, policy)
	} else {
		funder = funding.NewFaucetFunder(cfg.FriendbotURL, policy)
	}

	submitter := submit.NewSubmitter(horizonClient, cfg.NetworkPassphrase, cfg.PollInterval, cfg.PollAttempts)
	provisioner := keypair.NewProvisioner()

	dcfg := deploy.DefaultConfig()
	dcfg.FeePerOperation = cfg.BaseFee
	dcfg.TxTimeout = cfg.TxTimeout
	dcfg.MaxRetries = cfg.DeployRetryMax
	dcfg.Timeout = cfg.DeployTimeout
	dcfg.MintOnDeploy = cfg.MintOnDeploy

	var opts []deploy.Option
	if recorder != nil {
		opts = append(opts, deploy.WithRecorder(recorder))
	}
	if collector != nil {
		opts = append(opts, deploy.WithMetrics(collector))
	}
	if cfg.HasCustodyKeys() {
		issuer, err := provisioner.FromSecret(cfg.IssuerSecret)
		if err != nil {
			return nil, fmt.Errorf("loading ISSUER_SECRET: %w", err)
		}
		distributor, err := provisioner.FromSecret(cfg.DistributorSecret)
		if err != nil {
			return nil, fmt.Errorf("loading DISTRIBUTOR_SECRET: %w", err)
		}
		slog.Info("using custody accounts", "issuer", issuer, "distributor", distributor)
		opts = append(opts, deploy.WithCustodyKeys(issuer, distributor))
	}

	slog.Info("deployment pipeline ready",
		"network", cfg.Network, "horizon", cfg.HorizonURL, "faucet", cfg.UsesFaucet() && !cfg.HasCustodyKeys(),
		"mint", cfg.MintOnDeploy)

	return &pipeline{
		horizon:      horizonClient,
		submitter:    submitter,
		orchestrator: deploy.NewOrchestrator(provisioner, funder, horizonClient, submitter, dcfg, opts...),
	}, nil
}
