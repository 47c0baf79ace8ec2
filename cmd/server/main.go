package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-racer/backend/internal/config"
	"github.com/agent-racer/backend/internal/guard"
	"github.com/agent-racer/backend/internal/hook"
	"github.com/agent-racer/backend/internal/parser"
	"github.com/agent-racer/backend/internal/state"
	"github.com/agent-racer/backend/internal/watcher"
	"github.com/agent-racer/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/agent-racer/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	home := flag.String("home", "", "Override watch-root home directory (defaults to ~/.claude)")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *home != "" {
		cfg.Watch.Home = *home
	}

	guards := guard.New()
	guards.SetTTLs(cfg.Guard.RemovedTTL, cfg.Guard.HookActiveWindow)

	sm := state.New(guards)
	runner := parser.DefaultRunner
	hooks := hook.New(sm, runner)

	w, err := watcher.New(cfg.Watch.Home, sm, guards, runner)
	if err != nil {
		log.Fatalf("failed to start watcher: %v", err)
	}
	w.SetTimings(cfg.Watch.ChangeDebounce, cfg.Watch.StalenessInterval)

	hub := ws.NewHub(sm, cfg.Server.MaxConnections)

	server := ws.NewServer(sm, hub, hooks, cfg.Auth.Token, cfg.Server.AllowedOrigins)
	server.SetWatcherHealth(w)

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	watchStop := make(chan struct{})
	go w.Run(watchStop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				reloadConfig(cfgPath, cfg, guards, w)
				continue
			}
			log.Println("shutting down...")
			close(watchStop)
			os.Exit(0)
		}
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// reloadConfig re-reads cfgPath on SIGHUP and applies whichever fields are
// safe to change without a restart (watch timings, guard TTLs), logging
// the rest as "restart required" via config.Diff.
func reloadConfig(cfgPath string, cfg *config.Config, guards *guard.Manager, w *watcher.Watcher) {
	next, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("config reload: %v", err)
		return
	}

	changes := config.Diff(cfg, next)
	if len(changes) == 0 {
		log.Println("config reload: no changes")
		return
	}
	for _, c := range changes {
		log.Printf("config reload: %s", c)
	}

	guards.SetTTLs(next.Guard.RemovedTTL, next.Guard.HookActiveWindow)
	w.SetTimings(next.Watch.ChangeDebounce, next.Watch.StalenessInterval)

	*cfg = *next
}
