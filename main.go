package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// forceExitTimeout is how long a graceful shutdown may take before the
// process exits anyway.
const forceExitTimeout = 10 * time.Second

func main() {
	flag.String("serial-port", "/dev/ttyUSB2", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("proxy-url", "", "HTTP proxy for Telegram API traffic")
	flag.String("health-file", "/tmp/healthy", "Path of the liveness marker file")
	configFile := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	forwarder, err := NewForwarder(config, logger)
	if err != nil {
		logger.Error("Failed to create forwarder", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()

		// A second signal, or a shutdown that stalls, ends the process hard.
		select {
		case sig := <-sigChan:
			logger.Warn("Received second signal, exiting", "signal", sig)
		case <-time.After(forceExitTimeout):
			logger.Error("Shutdown timed out, exiting")
		}
		os.Exit(1)
	}()

	logger.Info("Starting SMS bridge",
		"serial_port", config.SerialPort,
		"baud_rate", config.BaudRate)

	if err := forwarder.Run(ctx); err != nil {
		logger.Error("Bridge stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Bridge shut down cleanly")
}
