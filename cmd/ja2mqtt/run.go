package main

import (
	"context"
	"database/sql"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/ja2mqtt/internal/api"
	"github.com/nerrad567/ja2mqtt/internal/bridge"
	"github.com/nerrad567/ja2mqtt/internal/correlation"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/logging"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/mqtt"
	"github.com/nerrad567/ja2mqtt/internal/infrastructure/serial"
	"github.com/nerrad567/ja2mqtt/internal/journal"
	"github.com/nerrad567/ja2mqtt/internal/process"
	"github.com/nerrad567/ja2mqtt/internal/rules"
	"github.com/nerrad567/ja2mqtt/internal/simulator"
	"github.com/nerrad567/ja2mqtt/migrations"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge",
		Long: "Start the bridge between the serial interface (or the built-in panel\n" +
			"simulator) and the MQTT broker. SIGINT, SIGTERM and SIGHUP stop it gracefully.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer cancel()
			return run(ctx, opts)
		},
	}
}

// linePort is the panel side of the bridge: the serial port or the simulator.
type linePort interface {
	bridge.LineWriter
	SetOnLine(callback func(line string))
	Run(ctx context.Context) error
	IsConnected() bool
	Stats() serial.Stats
	Close() error
}

// run is the bridge itself, separated from the command for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing the startup failure
func run(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	log := opts.newLogger(cfg)
	log.Info("starting ja2mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", cfg.Path(),
	)

	defs, err := rules.LoadDefinitions(cfg.RulesPath())
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	log.Info("rules loaded",
		"path", cfg.RulesPath(),
		"serial2mqtt_topics", len(defs.SerialToMQTT),
		"mqtt2serial_topics", len(defs.MQTTToSerial),
	)

	port, portName, err := openLinePort(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := port.Close(); closeErr != nil {
			log.Error("error closing "+portName, "error", closeErr)
		}
	}()

	clientID := cfg.MQTT.Broker.ClientID
	if clientID == "" {
		clientID = mqtt.ClientID(cfg.Bridge.Name)
	}
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT, clientID, cfg.StatusTopic())
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", clientID,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tracker := correlation.New(defs.Options.CorrelationID, defs.Options.CorrelationTimeout,
		correlation.WithLogger(log))
	b, err := bridge.New(bridge.Config{
		Definitions: defs,
		Scope:       rules.BaseScope(cfg.Topology),
		Tracker:     tracker,
		Serial:      port,
		Publisher:   &mqttPublisher{client: mqttClient},
		Metrics:     bridge.NewMetrics(registry, tracker),
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	port.SetOnLine(func(line string) {
		//nolint:errcheck // the bridge logs and counts its failures
		b.OnSerialLine(line)
	})

	health := bridge.NewHealthReporter(bridge.HealthReporterConfig{
		Topic:         cfg.StatusTopic(),
		Version:       version,
		Interval:      cfg.Bridge.HealthInterval,
		Publisher:     mqttClient,
		Port:          port,
		Bridge:        b,
		Subscriptions: mqttClient.SubscriptionCount,
	})
	health.SetLogger(log)

	sub := &mqttSubscriber{client: mqttClient, qos: byte(cfg.MQTT.QoS)}
	if subErr := b.OnMQTTConnect(sub); subErr != nil {
		log.Error("subscribing to mqtt2serial topics", "error", subErr)
	}
	mqttClient.SetOnDisconnect(health.MQTTDisconnected)
	mqttClient.SetOnConnect(func() {
		if subErr := b.OnMQTTConnect(sub); subErr != nil {
			log.Error("resubscribing to mqtt2serial topics", "error", subErr)
		}
		if pubErr := health.PublishNow(); pubErr != nil {
			log.Error("publishing health after reconnect", "error", pubErr)
		}
	})

	group := process.NewGroup()
	group.SetLogger(log)
	group.Add(process.DefaultConfig(portName, port.Run))
	group.Add(process.DefaultConfig("health", health.Run))

	// Message journal
	var journalRepo journal.Repository
	var dbStats func() sql.DBStats
	if cfg.Database.Enabled {
		db, dbErr := openDatabase(cfg)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.Source); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo := journal.NewSQLiteRepository(db.DB)
		recorder := journal.NewRecorder(repo, journal.RecorderConfig{Retention: cfg.Database.Retention})
		recorder.SetLogger(log)
		b.AddObserver(recorder.Observe)
		group.Add(process.DefaultConfig("journal", recorder.Run))

		journalRepo = repo
		dbStats = db.Stats
	}

	// Time series export is optional: the bridge runs without it.
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			log.Warn("InfluxDB unavailable, continuing without time series export", "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write failed", "error", err)
			})
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)

			b.AddObserver(influxObserver(influxClient))
			group.Add(process.DefaultConfig("influxdb", exportCounters(influxClient, cfg, b, port, portName)))
		}
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			Logger:      log,
			Version:     version,
			Health:      health,
			Definitions: defs,
			Journal:     journalRepo,
			Tasks:       group.Stats,
			DBStats:     dbStats,
			Gatherer:    registry,
		})
		if apiErr != nil {
			return fmt.Errorf("creating status server: %w", apiErr)
		}
		b.AddObserver(server.Observe)
		group.Add(process.DefaultConfig("api", server.Run))
	}

	if err := group.Start(ctx); err != nil {
		return fmt.Errorf("starting tasks: %w", err)
	}
	log.Info("ja2mqtt started", "status_topic", cfg.StatusTopic(), "panel", portName)

	<-ctx.Done()
	log.Info("shutdown signal received, stopping")

	if err := group.Stop(); err != nil {
		log.Error("error stopping tasks", "error", err)
	}

	log.Info("ja2mqtt stopped")
	return nil
}

// openLinePort returns the simulator when serial.use_simulator is set and
// the serial port otherwise, together with its task name.
func openLinePort(cfg *config.Config, log *logging.Logger) (linePort, string, error) {
	if cfg.Serial.UseSimulator {
		sim, err := simulator.New(cfg.Simulator, cfg.Topology)
		if err != nil {
			return nil, "", fmt.Errorf("creating simulator: %w", err)
		}
		sim.SetLogger(log)
		log.Info("using the panel simulator", "sections", len(cfg.Simulator.Sections))
		return sim, "simulator", nil
	}

	port, err := serial.New(cfg.Serial)
	if err != nil {
		return nil, "", fmt.Errorf("creating serial port: %w", err)
	}
	port.SetLogger(log)
	log.Info("using serial port", "port", cfg.Serial.Port, "baudrate", cfg.Serial.BaudRate)
	return port, "serial", nil
}

// mqttPublisher adapts the MQTT client to bridge.Publisher.
type mqttPublisher struct {
	client *mqtt.Client
}

// Publish implements bridge.Publisher with the configured QoS and retain flag.
func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	return p.client.PublishDefault(topic, payload)
}

// IsConnected implements bridge.Publisher.
func (p *mqttPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// mqttSubscriber adapts the MQTT client to bridge.Subscriber.
type mqttSubscriber struct {
	client *mqtt.Client
	qos    byte
}

// Subscribe implements bridge.Subscriber.
func (s *mqttSubscriber) Subscribe(topic string, handler func(topic string, payload []byte) error) error {
	return s.client.Subscribe(topic, s.qos, handler)
}

// influxObserver writes every bridged event as a point.
func influxObserver(client *influxdb.Client) bridge.Observer {
	return func(ev bridge.Event) {
		client.WriteBridgeEvent(influxEvent(ev))
	}
}

func influxEvent(ev bridge.Event) influxdb.BridgeEvent {
	return influxdb.BridgeEvent{
		Time:       ev.Time,
		Direction:  string(ev.Direction),
		Topic:      ev.Topic,
		LineBytes:  len(ev.Line),
		Payload:    len(ev.Payload),
		Correlated: ev.CorrelationID != nil,
	}
}

// exportCounters periodically writes the bridge and port counters.
func exportCounters(client *influxdb.Client, cfg *config.Config, b *bridge.Bridge, port linePort, portName string) process.Task {
	interval := cfg.Bridge.HealthInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				client.Flush()
				return nil
			case <-ticker.C:
				client.WriteBridgeCounters(cfg.Bridge.Name, bridgeCounters(b))
				client.WriteSerialCounters(portName, serialCounters(port.Stats()))
			}
		}
	}
}

func bridgeCounters(b *bridge.Bridge) influxdb.BridgeCounters {
	s := b.Stats()
	snap := b.Tracker().Snapshot()
	return influxdb.BridgeCounters{
		SerialLines:        s.SerialLines,
		Unmatched:          s.Unmatched,
		Published:          s.Published,
		MQTTMessages:       s.MQTTMessages,
		SerialWrites:       s.SerialWrites,
		ValidationFailures: s.ValidationFailures,
		Errors:             s.Errors,
		Pending:            snap.Pending,
		Applied:            snap.Applied,
		Expired:            snap.Expired,
	}
}

func serialCounters(s serial.Stats) influxdb.SerialCounters {
	return influxdb.SerialCounters{
		Connected:  s.Connected,
		LinesIn:    s.LinesIn,
		LinesOut:   s.LinesOut,
		Errors:     s.Errors,
		Reconnects: s.Reconnects,
	}
}
