package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "tokenize",
		Usage: "issue Stellar assets and deploy their supply",
		Commands: []*cli.Command{
			serveCommand(),
			deployCommand(),
			quoteCommand(),
			reconcileCommand(),
			exportCommand(),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("tokenize: %v", err)
	}
}
