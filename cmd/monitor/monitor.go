package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/ultrasonic.monitor/internal/api"
	"github.com/banshee-data/ultrasonic.monitor/internal/config"
	"github.com/banshee-data/ultrasonic.monitor/internal/db"
	"github.com/banshee-data/ultrasonic.monitor/internal/metrics"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
	"github.com/banshee-data/ultrasonic.monitor/internal/serialmux"
	"github.com/banshee-data/ultrasonic.monitor/internal/stream"
	"github.com/banshee-data/ultrasonic.monitor/internal/timeutil"
	"github.com/banshee-data/ultrasonic.monitor/internal/version"
)

var (
	configPath    = flag.String("config", config.DefaultSettingsPath, "Settings file (.json, .yaml or .yml)")
	port          = flag.String("port", "", "Serial port to connect at startup (defaults to the last used port)")
	baud          = flag.Int("baud", 0, "Baud rate (defaults to the saved setting)")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", "", "gRPC listen address for the notification stream (disabled if empty)")
	dbPath        = flag.String("db", "ultrasonic_tests.db", "SQLite test history (disabled if empty)")
	autoReconnect = flag.Bool("auto-reconnect", false, "Reconnect after the port fails (overrides the saved setting when given)")
	devMode       = flag.Bool("dev", false, "Replay built-in fixture lines instead of opening a serial port")
	fixturesPath  = flag.String("fixtures", "", "Fixture file replayed in dev mode (defaults to the built-in lines)")
	verbose       = flag.Bool("verbose", false, "Log every serial line")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

//go:embed fixtures.txt
var defaultFixtures string

const (
	devPort         = "fixture"
	fixtureInterval = 500 * time.Millisecond
	shutdownTimeout = 2 * time.Second
	chartPath       = "/api/chart/distance"
)

// options is everything main reads from flags, so run can be driven from
// tests.
type options struct {
	ConfigPath    string
	Port          string
	Baud          int
	Listen        string
	GRPCListen    string
	DBPath        string
	AutoReconnect *bool
	Dev           bool
	Fixtures      []string

	// onListen, when set, receives the bound HTTP address.
	onListen func(net.Addr)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(*verbose)

	opts := options{
		ConfigPath: *configPath,
		Port:       *port,
		Baud:       *baud,
		Listen:     *listen,
		GRPCListen: *grpcListen,
		DBPath:     *dbPath,
		Dev:        *devMode,
	}
	if flagWasSet("auto-reconnect") {
		opts.AutoReconnect = autoReconnect
	}
	if opts.Dev {
		lines, err := loadFixtures(*fixturesPath)
		if err != nil {
			log.Fatalf("failed to load fixtures: %v", err)
		}
		opts.Fixtures = lines
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// loadFixtures reads one line per sample from path, or the built-in
// fixture when path is empty. Blank lines are skipped.
func loadFixtures(path string) ([]string, error) {
	data := defaultFixtures
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = string(b)
	}
	var lines []string
	for _, l := range strings.Split(data, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return nil, errors.New("fixture file has no lines")
	}
	return lines, nil
}

// loadSettings reads the settings file and folds in the command-line
// overrides. Overrides are kept in memory only.
func loadSettings(opts options) (*config.Settings, error) {
	settings, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Baud > 0 {
		settings.SetBaudRate(opts.Baud)
	}
	if opts.AutoReconnect != nil {
		settings.SetAutoReconnect(*opts.AutoReconnect)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// startupPort picks the port to open at startup: the flag, then the saved
// port. Dev mode always has its fixture port.
func startupPort(opts options, settings *config.Settings) string {
	switch {
	case opts.Port != "":
		return opts.Port
	case settings.GetLastPort() != "":
		return settings.GetLastPort()
	case opts.Dev:
		return devPort
	}
	return ""
}

func run(ctx context.Context, opts options) error {
	settings, err := loadSettings(opts)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	ctrl, err := monitor.NewController(monitor.Options{
		Thresholds:      settings.GetThresholds(),
		HistoryCapacity: settings.GetHistoryCapacity(),
		SoundEnabled:    settings.GetSoundEnabled(),
		Clock:           timeutil.RealClock{},
	})
	if err != nil {
		return err
	}
	defer ctrl.Bus().Close()

	opener := serialmux.SerialPortOpener(serialmux.OpenRealPort)
	if opts.Dev {
		opener = serialmux.OpenFixture(opts.Fixtures, fixtureInterval)
		log.Printf("dev mode: replaying %d fixture lines", len(opts.Fixtures))
	}
	mgr := serialmux.NewConnectionManager(opener, ctrl, timeutil.RealClock{})
	defer mgr.Close()

	var database *db.DB
	var recorder *db.Recorder
	if opts.DBPath != "" {
		database, err = db.NewDB(opts.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		recorder = db.NewRecorder(database, ctrl.Bus())
	}

	collector := metrics.NewCollector(ctrl.Bus(), mgr.Counters)

	lis, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", opts.Listen, err)
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr())
	}

	var wg sync.WaitGroup

	if recorder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
			log.Print("recorder routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		collector.Run(ctx)
	}()

	if opts.GRPCListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stream.ListenAndServe(ctx, opts.GRPCListen, stream.NewServer(ctrl)); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
			log.Print("gRPC server routine stopped")
		}()
	}

	if p := startupPort(opts, settings); p != "" {
		req := serialmux.ConnectRequest{
			Port:          p,
			Options:       serialmux.PortOptions{BaudRate: settings.GetBaudRate()},
			AutoReconnect: settings.GetAutoReconnect(),
		}
		if err := mgr.Connect(req); err != nil {
			log.Printf("startup connect to %s failed: %v", p, err)
		} else if !opts.Dev {
			settings.RememberConnection(p, req.Options.BaudRate)
			if err := settings.Save(opts.ConfigPath); err != nil {
				log.Printf("failed to save settings: %v", err)
			}
		}
	}

	server := api.NewServer(api.Config{
		Controller:   ctrl,
		Conn:         mgr,
		DB:           database,
		Settings:     settings,
		SettingsPath: opts.ConfigPath,
		Metrics:      collector.Handler(),
	})
	mux := server.ServeMux()
	mgr.AttachAdminRoutes(mux)
	if database != nil {
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}
	}

	httpServer := &http.Server{
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf("HTTP server listening on %s (chart at %s)", lis.Addr(), chartPath)
			if err := httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Event streams only end when the server forces them closed.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if err := mgr.Close(); err != nil {
		log.Printf("failed to close serial port: %v", err)
	}
	return nil
}
