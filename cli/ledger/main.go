package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alphabill-org/ledgercore/cli/ledger/cmd"
	"github.com/alphabill-org/ledgercore/internal/logger"
)

var log = logger.CreateForPackage()

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.New().Execute(ctx); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}
