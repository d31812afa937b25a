// Command personamapper runs the crawl and persona mapping service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/thehouseofbailey/personamapper/internal/config"
	"github.com/thehouseofbailey/personamapper/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional, env vars apply either way)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "personamapper: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}
