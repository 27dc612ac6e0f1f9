package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"taxos/internal/cli"
	"taxos/internal/config"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := cli.Execute(ctx, cfg, os.Args[1:])
	stop()
	os.Exit(int(status))
}
