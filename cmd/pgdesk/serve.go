package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/pgdesk/internal/actions"
	"github.com/nerrad567/pgdesk/internal/api"
	"github.com/nerrad567/pgdesk/internal/gateway"
	"github.com/nerrad567/pgdesk/internal/infrastructure/config"
	"github.com/nerrad567/pgdesk/internal/infrastructure/database"
	"github.com/nerrad567/pgdesk/internal/infrastructure/influxdb"
	"github.com/nerrad567/pgdesk/internal/infrastructure/logging"
	"github.com/nerrad567/pgdesk/internal/infrastructure/mqtt"
	"github.com/nerrad567/pgdesk/internal/metrics"
	"github.com/nerrad567/pgdesk/internal/pgembed"
	"github.com/nerrad567/pgdesk/internal/terminal"
)

const banner = `
                 _           _
  _ __   __ _  __| | ___  ___| | __
 | '_ \ / _' |/ _' |/ _ \/ __| |/ /
 | |_) | (_| | (_| |  __/\__ \   <
 | .__/ \__, |\__,_|\___||___/_|\_\
 |_|    |___/
`

// defaultTelemetryInterval is used for terminal traffic samples when the
// InfluxDB flush interval is unset.
const defaultTelemetryInterval = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the engine, the terminal and the UI API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancels on Ctrl+C and SIGTERM; everything below shuts down from here.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, getConfigPath(configFlag(cmd)))
		},
	}
}

// run is the serve logic, separated from the command for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	printBanner(cfg, configPath)

	log := logging.New(cfg.Logging, version)
	log.Info("starting pgdesk",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	historyDB, historyRepo, err := openHistory(ctx, cfg, log)
	if err != nil {
		return err
	}
	if historyDB != nil {
		defer func() {
			log.Info("closing history database")
			if closeErr := historyDB.Close(); closeErr != nil {
				log.Error("error closing history database", "error", closeErr)
			}
		}()
	}

	// The engine gates everything else that talks to the database.
	handle, err := startEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stopEngine(handle, log)

	prom := metrics.New()
	//nolint:errcheck // Registration only fails on duplicate names
	prom.RegisterGauge("engine_up", "1 when the embedded engine is running.", func() float64 {
		if handle.IsRunning() {
			return 1
		}
		return 0
	})

	mqttClient, mqttEmitter := connectMQTT(cfg, log)
	if mqttClient != nil {
		//nolint:errcheck // Registration only fails on duplicate names
		prom.RegisterGauge("mqtt_dropped_events", "Events dropped because the MQTT relay queue was full.", func() float64 {
			return float64(mqttEmitter.Dropped())
		})
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttEmitter.Close(); closeErr != nil {
				log.Error("error closing MQTT emitter", "error", closeErr)
			}
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	//nolint:errcheck // Registration only fails on duplicate names
	prom.RegisterGauge("websocket_clients", "Connected WebSocket clients.", func() float64 {
		return float64(hub.ClientCount())
	})

	events := terminal.MultiEmitter{hub}
	if mqttEmitter != nil {
		events = append(events, mqttEmitter)
	}

	deps := actions.Deps{
		Target:  handle,
		History: historyRepo,
		Metrics: prom,
		Events:  events,
		Logger:  log.With("component", "actions"),
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}

	if cfg.Terminal.Enabled {
		term, termErr := startTerminal(ctx, cfg, log, slices.Concat(events, terminal.MultiEmitter{prom}))
		if termErr != nil {
			return termErr
		}
		defer func() {
			log.Info("closing terminal")
			if closeErr := term.close(); closeErr != nil {
				log.Error("error closing terminal", "error", closeErr)
			}
		}()
		deps.Terminal = term.meter
		if influxClient != nil {
			interval := time.Duration(cfg.InfluxDB.FlushInterval) * time.Second
			if interval <= 0 {
				interval = defaultTelemetryInterval
			}
			go term.meter.run(ctx, influxClient, interval)
		}
	} else {
		log.Info("terminal disabled")
	}

	format, err := gateway.ParseFormat(cfg.Query.DefaultFormat)
	if err != nil {
		return fmt.Errorf("query default format: %w", err)
	}
	acts := actions.New(actions.Config{
		Database:      cfg.Engine.Database,
		QueryTimeout:  cfg.GetQueryTimeout(),
		DefaultFormat: format,
	}, deps)

	apiDeps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Metrics:       cfg.Metrics,
		Logger:        log.With("component", "api"),
		Commands:      acts,
		DefaultFormat: format,
		Engine:        handle,
		History:       historyRepo,
		HistoryDB:     historyDB,
		MQTT:          mqttClient,
		Prometheus:    prom,
		ExternalHub:   hub,
		Version:       version,
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API listening", "address", server.Addr())

	if err := healthCheck(ctx, handle, historyDB, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	// Deferred closes run in reverse: API, terminal, hub, InfluxDB, MQTT,
	// engine, history database. Each is best-effort.
	return nil
}

// connectMQTT connects the optional event relay. A broker that cannot be
// reached is logged and the relay is skipped; nothing else depends on it.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, *mqtt.Emitter) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT relay disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT relay unavailable", "error", err)
		return nil, nil
	}
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT relay connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"topic_prefix", client.Topics().Prefix,
	)

	relayLog := log.With("component", "mqtt")
	return client, mqtt.NewEmitter(client, client.Topics(), client.QoS(), 0, relayLog)
}

// terminalSession bundles the PTY session with its metering wrapper.
type terminalSession struct {
	session *terminal.Session
	meter   *trafficMeter
}

func (t *terminalSession) close() error {
	return t.session.Close()
}

// startTerminal spawns the shell and starts pumping its output to sinks.
func startTerminal(ctx context.Context, cfg *config.Config, log *logging.Logger, sinks terminal.MultiEmitter) (*terminalSession, error) {
	session, err := terminal.Spawn(ctx, terminal.Options{
		Rows:  uint16(cfg.Terminal.Rows), //nolint:gosec // validated 1..65535
		Cols:  uint16(cfg.Terminal.Cols), //nolint:gosec // validated 1..65535
		Shell: cfg.Terminal.Shell,
		Dir:   cfg.Terminal.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("starting terminal: %w", err)
	}

	meter := newTrafficMeter(session)
	termLog := log.With("component", "terminal")

	pump := terminal.NewPump(session.Reader(), slices.Concat(sinks, terminal.MultiEmitter{meter}), terminal.PumpOptions{
		PollInterval: cfg.GetPollInterval(),
		BufferSize:   cfg.Terminal.BufferSize,
		Logger:       termLog,
	})
	go func() {
		if err := pump.Run(ctx); err != nil && ctx.Err() == nil {
			termLog.Warn("terminal output pump stopped", "error", err)
		}
	}()
	go func() {
		select {
		case <-session.Done():
			termLog.Warn("shell exited", "error", session.ExitErr())
		case <-ctx.Done():
		}
	}()

	rows, cols := session.Size()
	termLog.Info("terminal started", "pid", session.PID(), "rows", rows, "cols", cols)
	return &terminalSession{session: session, meter: meter}, nil
}

// healthCheck verifies the components serve depends on.
func healthCheck(ctx context.Context, handle *pgembed.Handle, historyDB *database.DB, influxClient *influxdb.Client) error {
	if !handle.IsRunning() {
		return fmt.Errorf("engine: %w", pgembed.ErrNotRunning)
	}

	if historyDB != nil {
		if err := historyDB.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history database: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

func printBanner(cfg *config.Config, configPath string) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Engine:    localhost:%d/%s\n", cfg.Engine.Port, cfg.Engine.Database)
	green.Print("    ▶ ")
	fmt.Printf("API:       %s\n", net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)))
	fmt.Println()
}
