// Command datamaster serves the database registry and query API over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/szqshan/DataMaster-MCP/internal/config"
	"github.com/szqshan/DataMaster-MCP/internal/export"
	"github.com/szqshan/DataMaster-MCP/internal/logger"
	"github.com/szqshan/DataMaster-MCP/internal/registry"
	"github.com/szqshan/DataMaster-MCP/internal/server"
)

func main() {
	settingsPath := flag.String("config", "config/settings.yaml", "path to service settings")
	flag.Parse()

	if err := run(*settingsPath); err != nil {
		fmt.Fprintf(os.Stderr, "datamaster: %v\n", err)
		os.Exit(1)
	}
}

func run(settingsPath string) error {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}

	log := logger.New(&logger.Config{
		Level:  settings.Log.Level,
		Format: settings.Log.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New(settings.RegistryPath, log)
	for family, descriptors := range reg.Drivers().All() {
		for _, desc := range descriptors {
			if desc.Available {
				log.Infof("driver %s available for %s (%s)", desc.Name, family, desc.Version)
			}
		}
	}

	var exporter *export.Exporter
	if settings.Export.Endpoint != "" {
		exporter, err = export.New(ctx, export.Config{
			Endpoint:  settings.Export.Endpoint,
			AccessKey: settings.Export.AccessKey,
			SecretKey: settings.Export.SecretKey,
			Bucket:    settings.Export.Bucket,
			UseSSL:    settings.Export.UseSSL,
		}, log)
		if err != nil {
			// Export is optional; the query API works without it.
			log.Warnf("export storage unavailable: %v", err)
			exporter = nil
		}
	}

	srv := server.New(reg, exporter, log)
	if err := srv.Run(ctx, settings.Listen); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
