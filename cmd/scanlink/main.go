// scanlink - Bluetooth barcode scanner host service
//
// This is the main entry point for the scanlink daemon. It discovers and
// pairs a Bluetooth barcode scanner, keeps a capture session with the
// scanner's driver open, and forwards scans and device-health events to
// the host over HTTP, WebSocket and MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/scanlink/migrations"

	"github.com/nerrad567/scanlink/internal/api"
	"github.com/nerrad567/scanlink/internal/bluetooth/bluez"
	"github.com/nerrad567/scanlink/internal/capture"
	"github.com/nerrad567/scanlink/internal/capture/serialdriver"
	"github.com/nerrad567/scanlink/internal/device"
	"github.com/nerrad567/scanlink/internal/discovery"
	"github.com/nerrad567/scanlink/internal/events"
	"github.com/nerrad567/scanlink/internal/infrastructure/config"
	"github.com/nerrad567/scanlink/internal/infrastructure/database"
	"github.com/nerrad567/scanlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/scanlink/internal/infrastructure/logging"
	"github.com/nerrad567/scanlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/scanlink/internal/pairing"
	"github.com/nerrad567/scanlink/internal/process"
	"github.com/nerrad567/scanlink/internal/scanner"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const (
	// shutdownTimeout bounds component teardown after the signal.
	shutdownTimeout = 10 * time.Second

	// commandTimeout bounds one operation requested over MQTT.
	commandTimeout = 30 * time.Second
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting scanlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Event bus: sinks are closed before the clients they write to.
	bus := events.NewBus()
	bus.SetLogger(log.Component("events"))
	defer bus.Close()
	if mqttClient != nil {
		bus.AddSink(events.NewMQTTSink(mqttClient))
	}
	if influxClient != nil {
		bus.AddSink(events.NewTelemetrySink(influxClient))
	}

	// Bluetooth adapter
	adapter, err := bluez.Open(ctx, cfg.Bluetooth.Adapter, log.Component("bluez"))
	if err != nil {
		return fmt.Errorf("opening bluetooth adapter %s: %w", cfg.Bluetooth.Adapter, err)
	}
	defer func() {
		if closeErr := adapter.Close(); closeErr != nil {
			log.Error("error closing bluetooth adapter", "error", closeErr)
		}
	}()
	log.Info("bluetooth adapter opened", "adapter", cfg.Bluetooth.Adapter)

	// Discovery and pairing share the peripheral registry.
	registry := device.NewRegistry()

	ctrl := discovery.NewController(adapter, registry, bus)
	ctrl.SetLogger(log.Component("discovery"))
	ctrl.WatchRadio()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := ctrl.Close(closeCtx); closeErr != nil {
			log.Warn("error stopping discovery", "error", closeErr)
		}
	}()

	orch := pairing.NewOrchestrator(adapter, registry, bus, pairing.Config{
		UnbondTimeout: cfg.Bluetooth.UnbondTimeout,
		BondTimeout:   cfg.Bluetooth.BondTimeout,
	})
	orch.SetLogger(log.Component("pairing"))
	defer orch.StopPairing()

	// RFCOMM link for the serial driver (optional)
	if cfg.Capture.Driver == "serial" && cfg.Capture.Serial.RFCOMM.Enabled {
		link, linkErr := startRFCOMMLink(ctx, cfg.Capture.Serial, log)
		if linkErr != nil {
			return fmt.Errorf("starting rfcomm link: %w", linkErr)
		}
		defer func() {
			if stopErr := link.Stop(); stopErr != nil {
				log.Error("error stopping rfcomm link", "error", stopErr)
			}
		}()
	}

	// Capture session
	driver, err := buildDriver(cfg.Capture, log)
	if err != nil {
		return err
	}
	store := scanner.NewSQLiteRepository(db.DB)
	mgr := capture.NewManager(driver, store, adapter, bus, capture.NewRouter(cfg.Capture.ListenerPriorities...))
	mgr.SetLogger(log.Component("capture"))

	var history api.ScanHistory
	if cfg.Capture.ScanLogSize > 0 {
		scanLog := scanner.NewScanLog(db.DB, cfg.Capture.ScanLogSize)
		if trimErr := scanLog.Trim(ctx); trimErr != nil {
			log.Warn("trimming scan log failed", "error", trimErr)
		}
		mgr.SetScanLog(scanLog)
		history = scanLog
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := mgr.Close(closeCtx); closeErr != nil {
			log.Warn("error closing capture session", "error", closeErr)
		}
	}()

	if startErr := mgr.StartSession(ctx); startErr != nil {
		log.Warn("capture session did not start, retry via the API", "error", startErr)
	}

	// API server
	srv, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Logger:        log.Component("api"),
		Discovery:     ctrl,
		Pairing:       orch,
		Capture:       mgr,
		Events:        bus,
		Scans:         history,
		Stamp:         store,
		DefaultFilter: cfg.Bluetooth.DiscoveryFilter,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if mqttClient != nil {
		if subErr := subscribeCommands(mqttClient, srv, byte(cfg.MQTT.QoS), log); subErr != nil {
			return fmt.Errorf("subscribing to commands: %w", subErr)
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal", "api", srv.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API server, capture
	// session, rfcomm link, pairing, discovery, bluetooth, event bus,
	// InfluxDB, MQTT, database.

	log.Info("scanlink stopped")
	return nil
}

// loadConfig loads the file named by SCANLINK_CONFIG. Without the variable
// it loads the default path if present and the built-in defaults if not.
func loadConfig() (*config.Config, string, error) {
	path := getConfigPath()
	if os.Getenv("SCANLINK_CONFIG") == "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.Default()
			return cfg, "(built-in defaults)", err
		}
	}
	cfg, err := config.Load(path)
	return cfg, path, err
}

// getConfigPath returns the configuration file path.
// Uses SCANLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SCANLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildDriver creates the configured capture driver.
func buildDriver(cfg config.CaptureConfig, log *logging.Logger) (capture.Driver, error) {
	switch cfg.Driver {
	case "serial":
		drv := serialdriver.New(serialdriver.Config{
			Port:         cfg.Serial.Port,
			BaudRate:     cfg.Serial.BaudRate,
			Address:      cfg.Serial.Address,
			Name:         cfg.Serial.Name,
			PollInterval: cfg.Serial.PollInterval,
		}, nil)
		drv.SetLogger(log.Component("serial"))
		log.Info("capture driver: serial", "port", cfg.Serial.Port, "baud_rate", cfg.Serial.BaudRate)
		return drv, nil
	case "none":
		log.Info("capture driver: none, scanner sessions will stay empty")
		return capture.NewNullDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported capture driver %q", cfg.Driver)
	}
}

// startRFCOMMLink supervises `rfcomm connect` for the serial driver's tty.
func startRFCOMMLink(ctx context.Context, cfg config.SerialConfig, log *logging.Logger) (*process.Supervisor, error) {
	spec, err := process.RFCOMMLink{
		Binary:  cfg.RFCOMM.Binary,
		Device:  cfg.Port,
		Address: cfg.Address,
		Channel: cfg.RFCOMM.Channel,
	}.Spec()
	if err != nil {
		return nil, err
	}
	spec.OnExit = func(err error) {
		log.Warn("rfcomm link dropped", "device", cfg.Port, "error", err)
	}

	link := process.NewSupervisor(spec)
	link.SetLogger(log.Component("rfcomm"))
	if err := link.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("rfcomm link supervised", "device", cfg.Port, "address", cfg.Address)
	return link, nil
}

// subscribeCommands routes scanlink/<node>/command/<op> messages to the API
// server's command handler.
func subscribeCommands(client *mqtt.Client, srv *api.Server, qos byte, log *logging.Logger) error {
	topics := client.Topics()
	topic := topics.AllCommands()
	log.Info("subscribing to commands", "topic", topic)

	return client.Subscribe(topic, qos, func(t string, payload []byte) error {
		op := topics.CommandOp(t)
		if op == "" {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := srv.HandleCommand(ctx, op, payload); err != nil {
			return fmt.Errorf("command %s: %w", op, err)
		}
		log.Debug("command handled", "op", op)
		return nil
	})
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
