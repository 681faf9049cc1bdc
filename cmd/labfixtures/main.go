// Package main provides the labfixtures CLI: dump a lab's sample data into
// natural-key fixtures and restore it into another lab.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/abates/network-lab-runner/internal/config"
	"github.com/abates/network-lab-runner/internal/runner"
)

func main() {
	cfg, err := runner.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		if errors.Is(err, runner.ErrUsage) {
			flag.Usage()
		}
		config.Exitf("labfixtures: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		stop()
		config.Exitf("labfixtures %s: %v", cfg.Command, err)
	}
}
