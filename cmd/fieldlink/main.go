// Gray Logic Fieldlink - field unit radio core
//
// Fieldlink discovers battery-powered field units over Bluetooth LE, admits
// the ones an operator trusts, keeps a link to each registered unit and
// relays its telemetry onto the hub message bus. Outbound commands are held
// per device and released only while the unit's radio window is open.
//
// Usage:
//
//	fieldlink                                   run the service
//	fieldlink token -subject <name> -role <role> mint an operator API token
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/nerrad567/gray-logic-fieldlink/migrations"

	"github.com/nerrad567/gray-logic-fieldlink/internal/api"
	"github.com/nerrad567/gray-logic-fieldlink/internal/audit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/auth"
	"github.com/nerrad567/gray-logic-fieldlink/internal/ble"
	"github.com/nerrad567/gray-logic-fieldlink/internal/fieldunit"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fieldlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-fieldlink/internal/metrics"
	"github.com/nerrad567/gray-logic-fieldlink/internal/scheduler"
	"github.com/nerrad567/gray-logic-fieldlink/internal/trust"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Components are torn down by the defer chain in reverse start order.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup wiring is linear but long
	log := logging.Default()
	log.Info("starting Gray Logic Fieldlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	trustStore := trust.NewSQLiteStore(db.DB)
	auditLog := audit.NewSQLiteRepository(db.DB)

	// MQTT is optional at startup: without a broker the bus still feeds
	// the websocket relay and the scheduler.
	health := map[string]api.HealthChecker{"database": db}
	var publisher mqtt.EventPublisher
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, running with local bus only", "error", err)
		mqttClient = nil
	} else {
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		publisher = mqttClient
		health["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}
	bus := mqtt.NewBus(publisher)

	var telemetryRecorder fieldunit.TelemetryRecorder
	var eventRecorder scheduler.EventRecorder
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		telemetryRecorder = influxClient
		eventRecorder = influxClient
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	manager, err := fieldunit.NewManager(fieldunit.ManagerOptions{
		OpenAdapter: ble.BlueZOpener(cfg.BLE.Adapter, log.Component("ble")),
		Trust:       trustStore,
		Bus:         bus,
		HubID:       cfg.Site.HubID,
		Config:      cfg.BLE,
		Recorder:    telemetryRecorder,
		Metrics:     m,
		Logger:      log.Component("fieldunit"),
	})
	if err != nil {
		return fmt.Errorf("creating field unit manager: %w", err)
	}

	sched, err := scheduler.New(scheduler.Options{
		Sender:   manager,
		Bus:      bus,
		Config:   cfg.Scheduler,
		Recorder: eventRecorder,
		Metrics:  m,
		Logger:   log.Component("scheduler"),
	})
	if err != nil {
		return fmt.Errorf("creating command scheduler: %w", err)
	}
	manager.SetObserver(sched)

	sched.Start(ctx)
	defer sched.Stop()

	// A host without a radio starts with discovery disabled, not an error.
	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting field unit manager: %w", startErr)
	}
	defer manager.Stop()

	if mqttClient != nil {
		if subErr := mqttClient.SubscribeCommands(commandHandler(ctx, sched, auditLog, log)); subErr != nil {
			return fmt.Errorf("subscribing to commands: %w", subErr)
		}
		log.Info("listening for bus commands")
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			FieldUnits: manager,
			Trust:      trustStore,
			Scheduler:  sched,
			Audit:      auditLog,
			Events:     bus,
			Metrics:    promhttp.Handler(),
			Health:     health,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// commandHandler submits command requests arriving on
// graylogic/fieldunit/command/<device_id> to the scheduler and records
// accepted ones in the audit trail.
func commandHandler(ctx context.Context, sched *scheduler.Scheduler, auditLog *audit.SQLiteRepository, log *logging.Logger) mqtt.CommandHandler {
	return func(deviceID string, payload []byte) error {
		req, err := scheduler.DecodeCommandRequest(payload)
		if err != nil {
			return err
		}
		cmd, err := sched.Submit(ctx, deviceID, req)
		if err != nil {
			return fmt.Errorf("submitting command for %s: %w", deviceID, err)
		}
		log.Debug("bus command accepted",
			"device_id", deviceID,
			"action", cmd.Action,
			"priority", cmd.Priority.String(),
			"command_id", cmd.ID,
		)
		if auditLog != nil {
			if err := auditLog.Record(ctx, &audit.Entry{
				Action:  audit.ActionCommand,
				Target:  deviceID,
				Source:  audit.SourceMQTT,
				Details: map[string]any{
					"command_id": cmd.ID,
					"action":     cmd.Action,
					"priority":   cmd.Priority.String(),
				},
			}); err != nil {
				log.Warn("failed to record audit entry", "device_id", deviceID, "error", err)
			}
		}
		return nil
	}
}

// runToken mints an operator token signed with the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "token subject (operator name)")
	role := fs.String("role", string(auth.RoleViewer), "role: viewer or operator")
	ttl := fs.Duration("ttl", 0, "token lifetime (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.IssueToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

// getConfigPath returns FIELDLINK_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("FIELDLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
