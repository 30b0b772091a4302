package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"i4.energy/across/modemcore/internal/events"
	"i4.energy/across/modemcore/internal/metrics"
	"i4.energy/across/modemcore/modem"
	"i4.energy/across/modemcore/netreg"
	"i4.energy/across/modemcore/obex"
)

func main() {
	configFile := flag.String("config", "", "Configuration file (YAML, TOML or JSON)")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.String("secondary-serial-port", "", "Second AT port of the modem, if any")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("log-file", "", "Rotated log file, in addition to stderr")
	flag.String("sim-pin", "", "SIM card PIN code (if required)")
	flag.Duration("at-timeout", 5*time.Second, "Response timeout of a single AT command")
	flag.Duration("min-send-interval", 0, "Minimum delay between two AT commands")
	flag.String("obex-address", ":6500", "Listen address of the OBEX push server (empty to disable)")
	flag.String("inbox-dir", "inbox", "Directory receiving objects pushed over OBEX")
	flag.String("business-card", "", "vCard file served to OBEX business card pulls")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(config)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// All registration callbacks and HTTP access run on this goroutine.
	dispatcher := modem.NewDispatcher()
	defer dispatcher.Close()

	primary, err := openModem(ctx, config, config.SerialPort, dispatcher, logger)
	if err != nil {
		logger.Error("Failed to create modem", "port", config.SerialPort, "error", err)
		os.Exit(1)
	}
	secondary := primary
	if config.SecondarySerialPort != "" {
		secondary, err = openModem(ctx, config, config.SecondarySerialPort, dispatcher, logger)
		if err != nil {
			logger.Error("Failed to create modem", "port", config.SecondarySerialPort, "error", err)
			os.Exit(1)
		}
	}

	registry := metrics.NewRegistry()
	appMetrics := metrics.New(registry)
	hub := events.New(logger.With("component", "events"))
	results := &ResultWaiters{}

	registration := netreg.New(primary, secondary,
		netreg.WithLogger(logger.With("component", "netreg")),
		netreg.WithObserver(appMetrics.Registration()),
		netreg.WithObserver(hub.Registration()),
		netreg.WithObserver(results.Observer()),
	)

	for _, m := range uniqueModems(primary, secondary) {
		go runModem(ctx, m, registration, logger)
	}
	primary.Post(registration.ResetModem)

	logger.Info("Starting modem core", "serial_port", config.SerialPort, "secondary_serial_port", config.SecondarySerialPort)

	var obexServer *obex.Server
	var cards *CardStore
	if config.ObexAddress != "" {
		cards, err = LoadCardStore(config.BusinessCard)
		if err != nil {
			logger.Error("Failed to load business card", "error", err)
			os.Exit(1)
		}
		sessionLogger := logger.With("component", "obex")
		obexServer = obex.NewServer(config.ObexAddress, func(id string) *obex.Session {
			return obex.NewSession(id,
				obex.WithInbox(config.InboxDir),
				obex.WithBusinessCardProvider(cards.Provide),
				obex.WithSessionLogger(sessionLogger),
				obex.WithObserver(appMetrics.Session()),
				obex.WithObserver(hub.Session(id)),
			)
		}, logger)
		obexServer.OnEngine(appMetrics.Engine)

		go func() {
			if err := obexServer.ListenAndServe(ctx); err != nil && !errors.Is(err, obex.ErrServerClosed) {
				logger.Error("OBEX server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:       logger.With("component", "server"),
			Dispatcher:   dispatcher,
			Registration: registration,
			Results:      results,
			Obex:         obexServer,
			Cards:        cards,
			Events:       hub,
			Metrics:      metrics.Handler(registry),
		},
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if obexServer != nil {
		logger.Info("Closing OBEX server")
		if err := obexServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down OBEX server", "error", err)
		}
	}

	logger.Info("Closing modem connection")
	for _, m := range uniqueModems(primary, secondary) {
		if err := m.Close(); err != nil {
			logger.Error("Failed to close modem", "error", err)
		}
	}
	cancel()
	hub.Close()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}
}

func newLogger(config *Config) *slog.Logger {
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

	var out io.Writer = os.Stderr
	if config.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel}))
}

func openModem(ctx context.Context, config *Config, port string, dispatcher *modem.Dispatcher, logger *slog.Logger) (*modem.Modem, error) {
	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(config.ATTimeout).
		WithInitTimeout(30 * time.Second).
		WithMinSendInterval(config.MinSendInterval).
		WithSimPIN(config.SimPIN).
		WithDispatcher(dispatcher).
		WithLogger(logger.With("component", "modem", "port", port)).
		WithDialer(modem.SerialDialer{
			PortName: port,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		return nil, err
	}
	return modem.New(ctx, modemConfig)
}

// runModem runs the command loop of m and reports a dead channel to the
// registration.
func runModem(ctx context.Context, m *modem.Modem, registration *netreg.Registration, logger *slog.Logger) {
	go func() {
		for {
			select {
			case line := <-m.URC():
				logger.Debug("Unhandled unsolicited result", "line", line)
			case <-m.Done():
				return
			}
		}
	}()

	if err := m.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Modem loop stopped", "error", err)
	}
	m.Post(registration.ChannelLost)
}

func uniqueModems(primary, secondary *modem.Modem) []*modem.Modem {
	if primary == secondary {
		return []*modem.Modem{primary}
	}
	return []*modem.Modem{primary, secondary}
}
