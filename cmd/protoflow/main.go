// Package main starts the protoflow runtime and handles termination.
//
// Instances are snapshotted when the process receives SIGINT or SIGTERM so
// the next start resumes them.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	protoflowcmd "github.com/louisbranch/protoflow/internal/cmd/protoflow"
)

func main() {
	cfg, err := protoflowcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[PROTOFLOW] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := protoflowcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
