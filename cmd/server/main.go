package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/port4k/port4k/pkg/game"
	"github.com/port4k/port4k/pkg/script"
	"github.com/port4k/port4k/pkg/scrollback"
	"github.com/port4k/port4k/pkg/server"
	"github.com/port4k/port4k/pkg/store"
	"github.com/port4k/port4k/pkg/world"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("P4K_CONF", ""), "Path to server config file (env: P4K_CONF)")
	blueprintDir := flag.String("blueprints", envDefault("P4K_BLUEPRINT_DIR", ""), "Path to blueprint YAML directory (env: P4K_BLUEPRINT_DIR)")
	dataDir := flag.String("data", envDefault("P4K_DATA_DIR", ""), "Path to the data directory (env: P4K_DATA_DIR)")
	telnetPort := flag.Int("port", 0, "Telnet port, overrides config (env: P4K_TELNET_PORT)")
	webPort := flag.Int("web-port", 0, "Web port, overrides config (env: P4K_WEB_PORT)")
	noStore := flag.Bool("no-store", os.Getenv("P4K_NO_STORE") == "true", "Run without durable storage; everyone is a guest (env: P4K_NO_STORE)")
	genSecret := flag.Bool("gen-jwt-secret", false, "Print a fresh JWT secret and exit")
	flag.Parse()

	if *genSecret {
		secret, err := server.GenerateJWTSecret()
		if err != nil {
			log.Fatalf("Generating secret: %v", err)
		}
		os.Stdout.WriteString(secret + "\n")
		return
	}

	cfg := server.DefaultConfig()
	if *confFile != "" {
		var err error
		cfg, err = server.LoadConfig(*confFile)
		if err != nil {
			log.Fatalf("Config: %v", err)
		}
	}
	cfg.ApplyEnv()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *blueprintDir != "" {
		cfg.BlueprintDir = *blueprintDir
	}
	if *telnetPort != 0 {
		cfg.TelnetPort = *telnetPort
	} else if v := os.Getenv("P4K_TELNET_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.TelnetPort = p
		}
	}
	if *webPort != 0 {
		cfg.WebPort = *webPort
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Data dir: %v", err)
	}

	lib, err := world.NewLibrary(cfg.BlueprintDir)
	if err != nil {
		log.Fatalf("Blueprints: %v", err)
	}
	if len(lib.Keys()) == 0 {
		log.Fatalf("No blueprints found in %s", cfg.BlueprintDir)
	}
	if err := lib.Watch(); err != nil {
		log.Printf("Blueprint watcher disabled: %v", err)
	}
	log.Printf("Loaded %d blueprints from %s", len(lib.Keys()), cfg.BlueprintDir)

	var st *store.Store
	if !*noStore {
		st, err = store.Open(filepath.Clean(cfg.StorePath))
		if err != nil {
			log.Fatalf("Store: %v", err)
		}
		defer st.Close()
		log.Printf("World store: %s", cfg.StorePath)
	}

	var scroll *scrollback.Log
	if cfg.ScrollbackDB != "" {
		scroll, err = scrollback.Open(cfg.ScrollbackDB)
		if err != nil {
			log.Printf("Scrollback disabled: %v", err)
		} else {
			defer scroll.Close()
			log.Printf("Scrollback: %s", cfg.ScrollbackDB)
		}
	}

	eng := script.NewEngine(cfg.ScriptWorkers, time.Duration(cfg.ScriptBudget)*time.Millisecond)
	defer eng.Close()

	g := game.New(lib, st, eng)
	g.Scroll = scroll

	srv := server.NewServer(g, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Printf("Goodbye.")
}
