package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/weftwork/weft/cmd/root"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := root.Execute(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]...); err != nil {
		os.Exit(1)
	}
}
