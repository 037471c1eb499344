package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/tokenize/internal/api"
	"github.com/mtlprog/tokenize/internal/config"
	"github.com/mtlprog/tokenize/internal/deploy"
	"github.com/mtlprog/tokenize/internal/deployment"
	"github.com/mtlprog/tokenize/internal/domain"
	"github.com/mtlprog/tokenize/internal/export"
	"github.com/mtlprog/tokenize/internal/keypair"
	"github.com/mtlprog/tokenize/internal/metrics"
	"github.com/mtlprog/tokenize/internal/tokenomics"
	"github.com/mtlprog/tokenize/internal/worker"
)

var amountFlags = []cli.Flag{
	&cli.StringFlag{Name: "total-value", Usage: "total value of the asset", Required: true},
	&cli.StringFlag{Name: "total-supply", Usage: "number of tokens to issue", Required: true},
	&cli.StringFlag{Name: "min-investment", Usage: "minimum investment in value units"},
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API and the reconcile worker",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Usage: "HTTP port, overrides HTTP_PORT"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg := config.Load()
			if port := c.String("port"); port != "" {
				cfg.HTTPPort = port
			}

			pool, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := deployment.NewPgRepository(pool)
			collector := metrics.New()
			p, err := newPipeline(cfg, repo, collector)
			if err != nil {
				return err
			}
			svc := deployment.NewService(p.orchestrator, repo, p.orchestrator.Reconciler(),
				deployment.WithStaleAfter(staleAfter(cfg)))

			var hook worker.AfterPassHook
			if cfg.SheetsSpreadsheetID != "" && cfg.GoogleCredentialsJSON != "" {
				writer, err := export.NewSheetsWriter(ctx, cfg.SheetsSpreadsheetID, cfg.GoogleCredentialsJSON)
				if err != nil {
					slog.Warn("Google Sheets export disabled", "error", err)
				} else {
					hook = export.NewService(repo, writer)
				}
			}
			go worker.NewReconcileWorker(svc, cfg.ReconcileInterval, collector, hook).Run(ctx)

			if cfg.AdminAPIKey == "" {
				slog.Warn("ADMIN_API_KEY not set, deployment endpoint is unprotected")
			}

			srv := api.NewServer(cfg.HTTPPort, svc, collector, cfg.AdminAPIKey, cfg.DeployTimeout)
			serveErr := make(chan error, 1)
			go func() {
				log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				return fmt.Errorf("HTTP server: %w", err)
			}
			log.Println("Shutting down...")

			// in-flight deployments get their full deadline to settle
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DeployTimeout+10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
			}

			log.Println("Shutdown complete")
			return nil
		},
	}
}

func deployCommand() *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "issue an asset and mint its supply to a distribution account",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "asset-code", Usage: "asset code, 1-12 alphanumeric characters", Required: true},
			&cli.BoolFlag{Name: "reveal-secret", Usage: "print the generated account secrets to stderr"},
		}, amountFlags...),
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg := config.Load()

			in, err := tokenomics.ParseInputs(c.String("total-value"), c.String("total-supply"), c.String("min-investment"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			var recorder deploy.Recorder
			if cfg.DatabaseURL != "" {
				pool, err := openDatabase(ctx, cfg)
				if err != nil {
					return err
				}
				defer pool.Close()
				recorder = deployment.NewPgRepository(pool)
			}

			p, err := newPipeline(cfg, recorder, nil)
			if err != nil {
				return err
			}

			res := p.orchestrator.Deploy(ctx, deploy.Params{
				AssetCode:     c.String("asset-code"),
				TotalValue:    in.TotalValue,
				TotalSupply:   in.TotalSupply,
				MinInvestment: in.MinInvestment,
				KeepKeys:      c.Bool("reveal-secret"),
			})
			if res.Keys != nil {
				if err := revealKeys(c.App.ErrWriter, res.Keys); err != nil {
					return err
				}
			}
			if err := printJSON(c.App.Writer, res); err != nil {
				return err
			}

			switch res.Status {
			case domain.StatusConfirmed:
				return nil
			case domain.StatusIndeterminate:
				return cli.Exit("deployment outcome unknown, run `tokenize reconcile` later", 2)
			default:
				return cli.Exit("deployment failed: "+res.Reason, 1)
			}
		},
	}
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "compute price per token and minimum investment without touching the network",
		Flags: amountFlags,
		Action: func(c *cli.Context) error {
			q, err := tokenomics.Parse(c.String("total-value"), c.String("total-supply"), c.String("min-investment"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return printJSON(c.App.Writer, q)
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "settle deployments left indeterminate or timed out",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "maximum deployments to examine", Value: worker.DefaultBatch},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg := config.Load()

			pool, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := deployment.NewPgRepository(pool)
			p, err := newPipeline(cfg, repo, nil)
			if err != nil {
				return err
			}

			report, err := deployment.NewService(p.orchestrator, repo, p.orchestrator.Reconciler(),
				deployment.WithStaleAfter(staleAfter(cfg))).
				Reconcile(ctx, c.Int("limit"))
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, report)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write the deployment register to an XLSX file or Google Sheets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Usage: "xlsx or sheets", Value: "xlsx"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "XLSX output path", Value: "deployments.xlsx"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context
			cfg := config.Load()

			pool, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			repo := deployment.NewPgRepository(pool)

			switch c.String("format") {
			case "xlsx":
				f, err := os.Create(c.String("output"))
				if err != nil {
					return fmt.Errorf("creating %s: %w", c.String("output"), err)
				}
				if err := export.NewService(repo, export.NewXLSXWriter(f)).Export(ctx); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("closing %s: %w", c.String("output"), err)
				}
				slog.Info("deployment register written", "path", c.String("output"))
				return nil
			case "sheets":
				if cfg.SheetsSpreadsheetID == "" || cfg.GoogleCredentialsJSON == "" {
					return cli.Exit("SHEETS_SPREADSHEET_ID and GOOGLE_CREDENTIALS_JSON are required", 1)
				}
				writer, err := export.NewSheetsWriter(ctx, cfg.SheetsSpreadsheetID, cfg.GoogleCredentialsJSON)
				if err != nil {
					return err
				}
				return export.NewService(repo, writer).Export(ctx)
			default:
				return cli.Exit("unknown format "+c.String("format"), 1)
			}
		},
	}
}

// revealKeys prints the secrets of generated accounts and then discards them.
func revealKeys(w io.Writer, keys *deploy.Keys) error {
	defer keys.Issuer.Discard()
	defer keys.Distributor.Discard()

	for _, k := range []struct {
		role string
		kp   *keypair.Keypair
	}{{"issuer", keys.Issuer}, {"distributor", keys.Distributor}} {
		seed, err := k.kp.RevealSeed()
		if err != nil {
			return fmt.Errorf("revealing %s secret: %w", k.role, err)
		}
		fmt.Fprintf(w, "%s %s secret: %s\n", k.role, k.kp.Address(), seed)
	}
	fmt.Fprintln(w, "store these secrets now; they are not kept anywhere else")
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// staleAfter leaves a running deployment its full deadline before reconciliation touches it.
func staleAfter(cfg config.Config) time.Duration {
	return cfg.DeployTimeout + 2*time.Minute
}
