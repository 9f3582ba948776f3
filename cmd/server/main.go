package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"spadina.network/internal/access"
	"spadina.network/internal/asset"
	"spadina.network/internal/asset/store"
	"spadina.network/internal/auth"
	"spadina.network/internal/config"
	"spadina.network/internal/directory"
	"spadina.network/internal/peer"
	"spadina.network/internal/persistence/db"
	"spadina.network/internal/persistence/journal"
	"spadina.network/internal/session"
	"spadina.network/internal/tuning"
)

const (
	exitConfig = 1
	exitDB     = 2
	exitBind   = 3
)

func main() {
	configPath := flag.String("config", "spadina.toml", "server configuration file")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("configuration: %v", err)
		os.Exit(exitConfig)
	}
	tune, err := tuning.Load(cfg.Tuning)
	if err != nil {
		logger.Printf("tuning: %v", err)
		os.Exit(exitConfig)
	}

	database, err := db.Open(cfg.Database)
	if err != nil {
		logger.Printf("database: %v", err)
		os.Exit(exitDB)
	}
	defer database.Close()

	blobs, err := openAssetStore(cfg.AssetStore)
	if err != nil {
		logger.Printf("asset store: %v", err)
		os.Exit(exitConfig)
	}

	audit := journal.NewAudit(cfg.DataDir)
	defer audit.Close()

	sessions := auth.NewSessions([]byte(cfg.JWTSecret), 0)
	login := auth.NewLogin(database, sessions, cfg.Authentication.Kind)

	peerKeyPath := cfg.PeerKey
	if peerKeyPath == "" {
		peerKeyPath = filepath.Join(cfg.DataDir, "peer.pem")
	}
	peerKey, err := auth.LoadOrCreateKey(peerKeyPath)
	if err != nil {
		logger.Printf("peer key: %v", err)
		os.Exit(exitConfig)
	}
	peerAuth := auth.NewPeers(cfg.Name, peerKey, nil)

	// Swarm-aware blob fetcher; the mesh is attached below.
	fetcher := &peer.Fetcher{Local: blobs}
	resolver := asset.NewResolver(fetcher, tune.AssetPullAttempts, tune.AssetPullTimeout())

	train := make([]directory.TrainCar, 0, len(cfg.Train))
	for _, car := range cfg.Train {
		train = append(train, directory.TrainCar{Asset: car.Asset, AllowedFirst: car.AllowedFirst})
	}
	dir, err := directory.New(directory.Config{
		LocalServer: cfg.Name,
		HomeAsset:   cfg.DefaultRealm,
		Train:       train,
		Assets:      resolver,
		Store:       database,
		ServerAccess: func() access.List {
			list, err := database.ServerAccess(access.TargetAccessServer)
			if err != nil {
				logger.Printf("server access list: %v", err)
				return access.List{DefaultAllow: true}
			}
			return list
		},
		Seed:        rand.Int63,
		IdleGrace:   tune.IdleGrace(),
		EventBudget: tune.EventBudget,
		Log:         logger,
	})
	if err != nil {
		logger.Printf("directory: %v", err)
		os.Exit(exitConfig)
	}

	hub, err := session.NewHub(session.Config{
		LocalServer:    cfg.Name,
		Directory:      dir,
		Assets:         fetcher,
		Store:          database,
		OutboundBuffer: tune.OutboundBuffer,
		InboundRate:    rate.Limit(tune.RateLimits.ClientPerSecond),
		InboundBurst:   tune.RateLimits.ClientBurst,
		ResumeGrace:    tune.ResumeGrace(),
		Log:            logger,
	})
	if err != nil {
		logger.Printf("hub: %v", err)
		os.Exit(exitConfig)
	}

	mesh, err := peer.New(peer.Config{
		LocalServer: cfg.Name,
		Hub:         hub,
		Store:       database,
		Blobs:       blobs,
		Tokens:      peerAuth,
		Verifier:    peerAuth,
		AssetWait:   tune.PeerAssetWait(),
		Log:         logger,
	})
	if err != nil {
		logger.Printf("mesh: %v", err)
		os.Exit(exitConfig)
	}
	fetcher.Mesh = mesh
	hub.SetRemotes(mesh)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(cfg.Name, hub, dir, mesh, time.Now()))
	mux.HandleFunc("/api/auth/login", loginHandler(login, cfg.Authentication.Kind, logger))
	mux.HandleFunc("/api/client", session.NewServer(hub, sessions, logger).Handler())
	mux.HandleFunc("/api/peer", mesh.Handler())
	mux.HandleFunc(auth.KeyPath, peerAuth.KeyHandler())

	srv := &http.Server{
		Addr:              cfg.BindAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var adminSrv *http.Server
	if cfg.UnixSocket != "" {
		adminSrv, err = startAdminSocket(adminDeps{
			socket:   cfg.UnixSocket,
			hub:      hub,
			mesh:     mesh,
			dir:      dir,
			db:       database,
			audit:    audit,
			authKind: cfg.Authentication.Kind,
			issuer:   cfg.Name,
			log:      logger,
		})
		if err != nil {
			logger.Printf("admin socket: %v", err)
			os.Exit(exitBind)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_ = srv.Shutdown(shutdownCtx)
		if adminSrv != nil {
			_ = adminSrv.Shutdown(shutdownCtx)
		}
		hub.Shutdown()
		mesh.Shutdown()
		dir.Shutdown(shutdownCtx)
	}()

	logger.Printf("%s listening on %s", cfg.Name, cfg.BindAddress)
	if cfg.Certificate != "" {
		err = srv.ListenAndServeTLS(cfg.Certificate, cfg.PrivateKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Printf("listen: %v", err)
		os.Exit(exitBind)
	}
	// Give the shutdown goroutine time to flush realms.
	<-ctx.Done()
	time.Sleep(100 * time.Millisecond)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func openAssetStore(cfg config.AssetStore) (store.Store, error) {
	switch cfg.Kind {
	case "fs":
		return store.NewFS(cfg.Path)
	case "s3":
		return store.NewS3(cfg.Endpoint, cfg.Bucket, cfg.Prefix, cfg.AccessKeyID, cfg.SecretAccessKey)
	case "gcs":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "https://storage.googleapis.com"
		}
		return store.NewS3(endpoint, cfg.Bucket, cfg.Prefix, cfg.AccessKeyID, cfg.SecretAccessKey)
	default:
		return nil, fmt.Errorf("unknown asset store kind %q", cfg.Kind)
	}
}

type loginRequest struct {
	Player   string `json:"player"`
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

func loginHandler(login *auth.Login, kind string, logger *log.Logger) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req loginRequest
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 4096)).Decode(&req); err != nil || req.Player == "" {
			http.Error(rw, "bad request", http.StatusBadRequest)
			return
		}
		var token string
		var err error
		switch kind {
		case "password":
			token, err = login.Password(req.Player, req.Password)
		default:
			token, err = login.OTP(req.Player, req.Code)
		}
		if err != nil {
			logger.Printf("login %s refused: %v", req.Player, err)
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]string{"token": token})
	}
}

func metricsHandler(server string, hub *session.Hub, dir *directory.Directory, mesh *peer.Mesh, started time.Time) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(rw, "# HELP spadina_online_players Local players with live sessions.\n")
		fmt.Fprintf(rw, "# TYPE spadina_online_players gauge\n")
		fmt.Fprintf(rw, "spadina_online_players{server=%q} %d\n", server, hub.Connected())

		fmt.Fprintf(rw, "# HELP spadina_resident_realms Realms currently loaded.\n")
		fmt.Fprintf(rw, "# TYPE spadina_resident_realms gauge\n")
		fmt.Fprintf(rw, "spadina_resident_realms{server=%q} %d\n", server, len(dir.Resident()))

		fmt.Fprintf(rw, "# HELP spadina_peer_links Connected federation peers.\n")
		fmt.Fprintf(rw, "# TYPE spadina_peer_links gauge\n")
		fmt.Fprintf(rw, "spadina_peer_links{server=%q} %d\n", server, len(mesh.Peers()))

		fmt.Fprintf(rw, "# HELP spadina_uptime_seconds Seconds since the server started.\n")
		fmt.Fprintf(rw, "# TYPE spadina_uptime_seconds gauge\n")
		fmt.Fprintf(rw, "spadina_uptime_seconds{server=%q} %.0f\n", server, time.Since(started).Seconds())
	}
}

func listenUnix(path string) (net.Listener, error) {
	// A previous unclean shutdown leaves the socket file behind.
	_ = os.Remove(path)
	return net.Listen("unix", path)
}
