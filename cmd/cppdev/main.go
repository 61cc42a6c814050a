// Package main provides the cppdev CLI entrypoint.
package main

import (
	"context"
	"os"
	"os/signal"

	"cppdev/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cli.Execute(ctx)
}
