// Command replay runs the replay engine against one route: it loads
// configuration, starts the embedded message bus, loads the route's
// segment file list, and streams events at wall-clock pace until
// interrupted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/driveroute/routereplay/internal/api"
	"github.com/driveroute/routereplay/internal/bus"
	"github.com/driveroute/routereplay/internal/config"
	"github.com/driveroute/routereplay/internal/control"
	"github.com/driveroute/routereplay/internal/logging"
	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/sessionlog"
)

func main() {
	configPath := flag.String("config", "", "path to engine config YAML (defaults compiled in if omitted)")
	routeDir := flag.String("route", "", "directory containing segment subdirectories for the route to replay")
	routeName := flag.String("name", "route", "name to report for this route")
	flag.Parse()

	buffer := logging.GlobalBuffer()
	handler := logging.NewStreamHandler(buffer, os.Stderr, slog.LevelInfo)
	log := slog.New(handler)
	slog.SetDefault(log)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if *routeDir == "" {
		log.Error("-route is required")
		os.Exit(1)
	}
	route, err := discoverRoute(*routeName, *routeDir)
	if err != nil {
		log.Error("failed to discover route segments", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var messageBus *bus.Bus
	if cfg.Bus.Embedded {
		messageBus, err = bus.Start(bus.Options{Host: cfg.Bus.Host, Port: cfg.Bus.Port}, log)
		if err != nil {
			log.Error("failed to start message bus", "err", err)
			os.Exit(1)
		}
		defer messageBus.Stop()
	}

	sessions, err := sessionlog.Open(cfg.Storage.SessionLogPath)
	if err != nil {
		log.Error("failed to open session log", "err", err)
		os.Exit(1)
	}
	defer sessions.Close()

	engine := control.New(cfg, route, messageBus, sessions, log)
	engine.Start(ctx)
	defer engine.Stop()

	if cfg.API.Enabled {
		srv := api.New(engine, log)
		httpSrv := &http.Server{Addr: cfg.API.Addr, Handler: srv}
		go func() {
			log.Info("api: listening", "addr", cfg.API.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("api: server error", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// discoverRoute builds a model.Route by scanning dir for numbered segment
// subdirectories, each expected to contain an rlog/qlog and fcamera/
// dcamera/ecamera files. Fetching routes over the network is out of
// scope here; this is the minimal reader needed to exercise the rest of
// the engine against a real directory tree.
func discoverRoute(name, dir string) (*model.Route, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read route dir: %w", err)
	}

	var indices []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(e.Name(), "%d", &idx); err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	route := &model.Route{Name: name}
	for _, idx := range indices {
		segDir := filepath.Join(dir, fmt.Sprintf("%d", idx))
		files := model.SegmentFiles{
			Index:       idx,
			Log:         firstExisting(filepath.Join(segDir, "rlog")),
			LogFallback: firstExisting(filepath.Join(segDir, "qlog")),
		}
		files.Camera[model.RoadCam] = firstExisting(filepath.Join(segDir, "fcamera.hevc"))
		files.Camera[model.DriverCam] = firstExisting(filepath.Join(segDir, "dcamera.hevc"))
		files.Camera[model.WideRoadCam] = firstExisting(filepath.Join(segDir, "ecamera.hevc"))
		route.Segments = append(route.Segments, files)
	}
	return route, nil
}

func firstExisting(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// dumpStatus is a small debugging helper kept for operators poking at a
// running engine over the CLI without the HTTP surface enabled.
func dumpStatus(s control.Status) {
	b, _ := json.MarshalIndent(s, "", "  ")
	fmt.Fprintln(os.Stdout, string(b))
}
