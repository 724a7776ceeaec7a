// Package main is the entry point for the Milo audio hub.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/miloaudio/milo/internal/domain/device"
	"github.com/miloaudio/milo/internal/domain/metadata"
	"github.com/miloaudio/milo/internal/domain/plugin"
	"github.com/miloaudio/milo/internal/domain/routing"
	"github.com/miloaudio/milo/internal/domain/source"
	"github.com/miloaudio/milo/internal/domain/switching"
	"github.com/miloaudio/milo/internal/domain/volume"
	"github.com/miloaudio/milo/internal/infra/alsa"
	"github.com/miloaudio/milo/internal/infra/mpd"
	"github.com/miloaudio/milo/internal/infra/routebind"
	"github.com/miloaudio/milo/internal/infra/settings"
	"github.com/miloaudio/milo/internal/infra/snapcast"
	"github.com/miloaudio/milo/internal/infra/systemd"
	"github.com/miloaudio/milo/internal/transport/ws"
	"github.com/miloaudio/milo/internal/version"
)

// sinkFunc adapts a closure to the coordinator's broadcast sink. The hub is
// built after the coordinator, so the indirection breaks the cycle.
type sinkFunc func(source.SystemState)

func (f sinkFunc) BroadcastState(st source.SystemState) { f(st) }

func main() {
	// Command line flags
	port := flag.String("port", "3002", "HTTP server port")
	dbPath := flag.String("db", "/var/lib/milo/settings.db", "Settings database path")
	devicePath := flag.String("device-config", "/var/lib/milo/device.json", "Device identity file")
	routingDir := flag.String("routing-dir", routebind.DefaultDir, "Directory for plugin routing environment files")
	mixerCard := flag.String("mixer-card", "default", "ALSA card for direct-mode volume")
	mixerControl := flag.String("mixer-control", "Digital", "ALSA mixer control for direct-mode volume")
	snapHost := flag.String("snapcast-host", "localhost", "Snapcast server host")
	snapPort := flag.Int("snapcast-port", 1705, "Snapcast JSON-RPC port")
	snapGroup := flag.String("snapcast-group", "Milo", "Snapcast group driven in multiroom mode")
	mpdHost := flag.String("mpd-host", "localhost", "MPD host (radio plugin)")
	mpdPort := flag.Int("mpd-port", 6600, "MPD port")
	mpdPassword := flag.String("mpd-password", "", "MPD password")
	spotifyStatus := flag.String("spotify-status-url", "http://127.0.0.1:7071/status", "Spotify plugin status endpoint")
	btStatus := flag.String("bluetooth-status-url", "http://127.0.0.1:7072/status", "Bluetooth plugin status endpoint")
	macStatus := flag.String("mac-status-url", "http://127.0.0.1:7073/status", "Mac receiver plugin status endpoint")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Single-Output Audio Hub")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Str("db", *dbPath).
		Str("routing_dir", *routingDir).
		Str("snapcast", *snapHost).
		Str("mpd_host", *mpdHost).
		Msg("Configuration")

	// Persisted settings. A missing or damaged database falls back to
	// defaults; the hub must come up either way.
	store := settings.NewStore(*dbPath)
	if err := store.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open settings store")
	}
	defer store.Close()

	saved, err := store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Settings load failed, using defaults")
		saved = settings.Defaults()
	}

	// Device identity
	ident, err := device.NewService(*devicePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize device identity")
	}

	// Routing table and device binding
	resolver, err := routing.NewResolver()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid routing table")
	}
	binder, err := routebind.NewBinder(*routingDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare routing directory")
	}

	// Plugin supervisor over systemd
	sup := plugin.NewSupervisor(systemd.NewManager(), plugin.DefaultUnits)

	// Volume backends. Snapcast connects lazily on first use, so multiroom
	// being down at boot does not block startup.
	mixer := alsa.NewMixer(*mixerCard, *mixerControl)
	snap := snapcast.NewClient(*snapHost, *snapPort, *snapGroup)
	defer snap.Close()

	// The boot state: persisted mode, eq and volume, but never a persisted
	// source. The hub always comes up silent.
	initial := source.NewSystemState()
	initial.OutputMode = saved.OutputMode
	initial.EqualizerEnabled = saved.EqualizerEnabled
	initial.Volume = saved.Volume

	var coord *switching.Coordinator
	volCtrl := volume.NewController(mixer, snap, func() source.OutputMode { return coord.OutputMode() }, saved.Volume)

	var hub *ws.Hub
	coord = switching.NewCoordinator(
		sup,
		resolver,
		binder,
		volCtrl,
		sinkFunc(func(st source.SystemState) { hub.BroadcastState(st) }),
		store,
		sup.Events(),
		initial,
	)
	hub = ws.NewHub(coord, ident.GetInfo())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	go coord.Run(ctx)
	go sup.Watch(ctx)

	// Metadata feeds. All of them run for the whole process lifetime; the
	// coordinator drops updates for whatever is not live.
	activeFn := func() source.Source { return coord.Snapshot().ActiveSource }

	mpdClient := mpd.NewClient(*mpdHost, *mpdPort, *mpdPassword)
	defer mpdClient.Close()
	go func() {
		radio := metadata.NewRadioWatcher(mpdClient, coord.UpdateMetadata)
		if err := radio.Run(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("Radio metadata watcher stopped")
		}
	}()

	for src, url := range map[source.Source]string{
		source.Spotify:     *spotifyStatus,
		source.Bluetooth:   *btStatus,
		source.MacReceiver: *macStatus,
	} {
		poller := metadata.NewStatusPoller(src, url, activeFn, coord.UpdateMetadata)
		go poller.Run(ctx)
	}

	// HTTP surface
	router := mux.NewRouter()

	router.HandleFunc("/ws", hub.ServeWS)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	}).Methods(http.MethodGet)

	// REST fallback for clients that only need a one-shot state read.
	router.HandleFunc("/api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(coord.Snapshot())
	}).Methods(http.MethodGet)

	// Plugins post side-channel notifications here; the hub fans them out
	// to every websocket client without touching system state.
	router.HandleFunc("/api/v1/notify", func(w http.ResponseWriter, r *http.Request) {
		var p ws.NotifyPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Event == "" {
			http.Error(w, "invalid notification", http.StatusBadRequest)
			return
		}
		hub.Notify(p)
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(router)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}
