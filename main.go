package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/armon/go-metrics"

	"i4.energy/across/espmux/esp8266"
	"i4.energy/across/espmux/modem"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the module")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("wifi-ssid", "", "Access point to join at startup")
	flag.String("wifi-password", "", "Passphrase of the access point")
	flag.Int("mux-count", esp8266.MuxCount, "Number of multiplexed connections")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
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

	// SIGUSR1 dumps the collected counters to stderr
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	metrics.DefaultInmemSignal(sink)
	metricsConfig := metrics.DefaultConfig("espmux")
	metricsConfig.EnableHostname = false
	met, err := metrics.New(metricsConfig, sink)
	if err != nil {
		logger.Error("Failed to create metrics", "error", err)
		os.Exit(1)
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(2 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithMuxCount(config.MuxCount).
		WithBackend(esp8266.Backend{}).
		WithLogger(logger).
		WithMetrics(met).
		WithDialer(modem.SerialDialer{
			PortName:    config.SerialPort,
			BaudRate:    config.BaudRate,
			ReadTimeout: 100 * time.Millisecond,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(context.Background(), modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}
	device := esp8266.NewDevice(m)

	if config.WifiSSID != "" {
		ok, err := device.JoinNetwork(context.Background(), config.WifiSSID, config.WifiPassword)
		if err != nil || !ok {
			logger.Error("Failed to join access point", "ssid", config.WifiSSID, "error", err)
			m.Close()
			os.Exit(1)
		}
	}

	info, err := device.Info(context.Background())
	if err != nil {
		logger.Warn("Failed to query firmware", "error", err)
	}
	logger.Info("Starting ESP8266 bridge", "firmware", info, "connections", m.MuxCount())

	server := NewServer(logger.With("component", "server"), device)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go server.Run(ctx, 250*time.Millisecond)

	httpServer := &http.Server{
		Addr:    config.BindAddress,
		Handler: server,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	stop()
	logger.Info("Closing modem connection")
	if err := server.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
		os.Exit(1)
	}
}
