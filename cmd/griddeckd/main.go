package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/griddeck/griddeck/internal/config"
	"github.com/griddeck/griddeck/internal/daemon"
	griddeckversion "github.com/griddeck/griddeck/internal/version"
)

var opts daemon.Options

func main() {
	rootCmd := &cobra.Command{
		Use:           "griddeckd",
		Short:         "GridDeck daemon - hosts plugins and routes control surface events",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = griddeckversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := rootCmd.Flags()
	flags.StringVar(&opts.Root, "root", "", "config root directory (default ~/.griddeck)")
	flags.StringVar(&opts.BundledPluginsDir, "bundled-plugins", "", "directory of bundled plugins to upgrade into the config root")
	flags.IntVar(&opts.BrokerPort, "broker-port", daemon.DefaultBrokerPort, "plugin socket port")
	flags.IntVar(&opts.APIPort, "api-port", daemon.DefaultAPIPort, "frontend API port")
	flags.IntVar(&opts.WebserverPort, "webserver-port", daemon.DefaultWebserverPort, "asset webserver port")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths(opts.Root)
	if err := setupLogging(paths); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if daemon.IsRunning(paths) {
		return fmt.Errorf("daemon is already running")
	}

	d, err := daemon.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	log.Printf("GridDeck daemon started (PID: %d)", os.Getpid())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %s, shutting down...", sig)

	if err := d.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Daemon stopped")
	return nil
}

func setupLogging(paths config.Paths) error {
	if err := os.MkdirAll(paths.LogsDir, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	logPath := filepath.Join(paths.LogsDir, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return nil
}
