// Package main is the entry point for the Catnip Meadow game server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	"github.com/mewhaven/catnip-server/internal/config"
	"github.com/mewhaven/catnip-server/internal/engine"
	"github.com/mewhaven/catnip-server/internal/events"
	"github.com/mewhaven/catnip-server/internal/infra/storage"
	"github.com/mewhaven/catnip-server/internal/network"
	"github.com/mewhaven/catnip-server/internal/platform/logger"
	"github.com/mewhaven/catnip-server/internal/platform/metrics"
	"github.com/mewhaven/catnip-server/internal/roster"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	log.Println("[MEADOW-SERVER] Initializing Catnip Meadow Authoritative Server...")

	appLogger := logger.NewLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	appLogger.Infof("Initializing SQLite database %q...", cfg.DBPath)
	db, err := storage.InitSQLite(cfg.DBPath)
	if err != nil {
		appLogger.Errorf("Failed to initialize SQLite: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	participantRepo := storage.NewSQLiteParticipantRepository(db)
	clockRepo := storage.NewSQLiteClockRepository(db)
	purchaseLedger := storage.NewSQLitePurchaseLedger(db)

	appLogger.Info("Bootstrapping notification bus and roster...")
	bus := events.NewBus()
	tuning := engine.Tuning(cfg)
	store := roster.NewStore(tuning, participantRepo, bus, appLogger)
	purchases := engine.NewPurchaseCoordinator(tuning, store, purchaseLedger, appLogger)

	appLogger.Info("Bootstrapping simulation engine...")
	eng := engine.New(cfg, store, purchases, clockRepo, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.RestoreClock(ctx); err != nil {
		appLogger.Warnf("Could not restore world clock, starting at zero: %v", err)
	}

	go eng.Run(ctx)

	// Real-time frame pump: measures wall-clock deltas and feeds them to the
	// fixed-step scheduler.
	go func() {
		frameTicker := time.NewTicker(cfg.Clock.FrameInterval())
		defer frameTicker.Stop()
		last := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-frameTicker.C:
				eng.AdvanceTime(now.Sub(last).Seconds())
				last = now
			}
		}
	}()

	// Scheduled maintenance jobs.
	scheduler := cron.New()
	scheduler.AddFunc("@every 30s", func() {
		if retried := store.FlushPending(ctx); retried > 0 {
			appLogger.Infof("Save sweep retried %d dirty participants", retried)
		}
	})
	scheduler.AddFunc("@every 1m", func() {
		if err := eng.CheckpointClock(ctx); err != nil {
			appLogger.Warnf("Clock checkpoint job failed: %v", err)
		}
	})
	scheduler.AddFunc("@daily", func() {
		st, err := eng.Status()
		if err != nil {
			return
		}
		appLogger.Infof("Daily summary: tick=%d day=%d participants=%d",
			st.CurrentTick, st.CurrentDay, st.ActiveParticipants)
	})
	scheduler.Start()
	defer scheduler.Stop()

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(eng, appLogger)
	go hub.Run(ctx)
	hub.StartUpdateFeed(ctx, bus)

	// Setup API Routes
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r, appLogger)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/metrics", metrics.Handler())
	mux.HandleFunc("/metrics/prometheus", metrics.PrometheusHandler())

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		st, err := eng.Status()
		if err != nil {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	})

	mux.HandleFunc("/api/clock/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := eng.Pause(); err != nil {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "paused"})
	})

	mux.HandleFunc("/api/clock/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := eng.Resume(); err != nil {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	})

	mux.HandleFunc("/api/purchases", func(w http.ResponseWriter, r *http.Request) {
		participantID := r.URL.Query().Get("participant_id")
		if participantID == "" {
			http.Error(w, "participant_id query parameter is required", http.StatusBadRequest)
			return
		}
		records, err := purchaseLedger.GetByParticipant(r.Context(), participantID)
		if err != nil {
			appLogger.Errorf("Failed to query purchase ledger: %v", err)
			http.Error(w, "ledger unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"participant_id": participantID,
			"purchases":      records,
		})
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		log.Printf("[MEADOW-SERVER] HTTP API & WS Server listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	log.Println("[MEADOW-SERVER] Server running. Press Ctrl+C to exit.")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[MEADOW-SERVER] Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Warnf("HTTP shutdown error: %v", err)
	}

	// Cancelling the engine context checkpoints the clock and drains all
	// participant state before Run returns.
	cancel()
	eng.WaitStopped()
	log.Println("[MEADOW-SERVER] Shutdown complete.")
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow cross-origin requests for the web client dev server
	},
}

// serveWs handles websocket requests from the peer.
func serveWs(hub *network.Hub, w http.ResponseWriter, r *http.Request, log *logger.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade websocket connection")
		return
	}
	hub.ServeWS(conn)
}
