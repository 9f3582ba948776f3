package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"

	"spadina.network/internal/access"
	"spadina.network/internal/auth"
	"spadina.network/internal/directory"
	"spadina.network/internal/peer"
	"spadina.network/internal/persistence/db"
	"spadina.network/internal/persistence/journal"
	"spadina.network/internal/session"
)

// adminDeps is everything the unix-socket admin surface can touch.
// The socket bypasses authentication: file permissions are the
// authorization.
type adminDeps struct {
	socket   string
	hub      *session.Hub
	mesh     *peer.Mesh
	dir      *directory.Directory
	db       *db.DB
	audit    *journal.Audit
	authKind string
	issuer   string
	log      *log.Logger
}

func startAdminSocket(deps adminDeps) (*http.Server, error) {
	ln, err := listenUnix(deps.socket)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/status", deps.status)
	mux.HandleFunc("/admin/ban", deps.ban)
	mux.HandleFunc("/admin/player", deps.createPlayer)
	mux.HandleFunc("/admin/access", deps.serverAccess)

	// Admin client sessions skip bearer auth; the token is the player
	// name itself.
	adminWS := session.NewServer(deps.hub, localNameAuth{}, deps.log)
	adminWS.GrantAdmin()
	mux.HandleFunc("/api/client", adminWS.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			deps.log.Printf("admin socket: %v", err)
		}
	}()
	deps.log.Printf("admin socket at %s", deps.socket)
	return srv, nil
}

// localNameAuth admits whatever name the connection presents.
type localNameAuth struct{}

func (localNameAuth) Verify(token string) (string, error) { return token, nil }

type statusReply struct {
	Peers  []string        `json:"peers"`
	Realms []directory.Key `json:"realms"`
	Banned []banRow        `json:"banned"`
}

type banRow struct {
	Server string `json:"server"`
	Reason string `json:"reason,omitempty"`
}

func (d adminDeps) status(rw http.ResponseWriter, r *http.Request) {
	bans, err := d.db.BannedPeers()
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	reply := statusReply{Peers: d.mesh.Peers(), Realms: d.dir.Resident()}
	for _, b := range bans {
		reply.Banned = append(reply.Banned, banRow{Server: b.Server, Reason: b.Reason})
	}
	writeJSON(rw, reply)
}

type banRequest struct {
	Server string `json:"server"`
	Reason string `json:"reason,omitempty"`
	Lift   bool   `json:"lift,omitempty"`
}

func (d adminDeps) ban(rw http.ResponseWriter, r *http.Request) {
	var req banRequest
	if !readJSON(rw, r, &req) || req.Server == "" {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	if err := d.db.SetPeerBan(req.Server, !req.Lift, req.Reason); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	d.mesh.RefreshBans()
	action := "ban"
	if req.Lift {
		action = "unban"
	}
	_ = d.audit.Record("admin", action, req.Server, req.Reason)
	writeJSON(rw, map[string]bool{"ok": true})
}

type playerRequest struct {
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

type playerReply struct {
	Name      string `json:"name"`
	OTPSecret string `json:"otp_secret,omitempty"`
	OTPURL    string `json:"otp_url,omitempty"`
}

func (d adminDeps) createPlayer(rw http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !readJSON(rw, r, &req) || req.Name == "" {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	if err := d.db.EnsurePlayer(req.Name); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	reply := playerReply{Name: req.Name}
	switch d.authKind {
	case "password":
		if req.Password == "" {
			http.Error(rw, "password required", http.StatusBadRequest)
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := d.db.SetPassword(req.Name, hash); err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
	default:
		key, err := totp.Generate(totp.GenerateOpts{Issuer: d.issuer, AccountName: req.Name})
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := d.db.SetOTPSecrets(req.Name, []string{key.Secret()}); err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		reply.OTPSecret = key.Secret()
		reply.OTPURL = key.URL()
	}
	_ = d.audit.Record("admin", "create-player", req.Name, d.authKind)
	writeJSON(rw, reply)
}

type accessRequest struct {
	Target       string   `json:"target"`
	DefaultAllow bool     `json:"default_allow"`
	Allow        []string `json:"allow,omitempty"`
	Deny         []string `json:"deny,omitempty"`
}

func (d adminDeps) serverAccess(rw http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		list, err := d.db.ServerAccess(access.Target(r.URL.Query().Get("target")))
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(rw, list)
		return
	}

	var req accessRequest
	if !readJSON(rw, r, &req) || req.Target == "" {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}
	list := access.List{DefaultAllow: req.DefaultAllow}
	for _, group := range []struct {
		predicates []string
		allow      bool
	}{{req.Allow, true}, {req.Deny, false}} {
		for _, pred := range group.predicates {
			rule, err := access.ParsePredicate(pred)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusBadRequest)
				return
			}
			rule.Allow = group.allow
			list.Rules = append(list.Rules, rule)
		}
	}
	if err := d.db.SetServerAccess(access.Target(req.Target), list); err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = d.audit.Record("admin", "server-access", req.Target, "")
	writeJSON(rw, map[string]bool{"ok": true})
}

func readJSON(rw http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 64*1024)).Decode(v); err != nil {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}
