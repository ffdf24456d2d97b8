package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"github.com/vmihailenco/msgpack/v5"

	"barchive/internal/barerr"
	"barchive/internal/barindex"
	"barchive/internal/barindex/sqlitecat"
	"barchive/internal/barlog"
)

// ServerConfig configures a master-index Server.
type ServerConfig struct {
	// NodeID is this node's unique raft server ID.
	NodeID string
	// RaftAddr is the TCP address raft's network transport binds and
	// advertises (e.g. "127.0.0.1:4591").
	RaftAddr string
	// HTTPAddr is the address the JSON RPC listener binds (e.g. ":4592").
	HTTPAddr string
	// DataDir holds the raft log, stable store, and snapshots.
	DataDir string
	// CatalogPath is the embedded sqlitecat.Store's database file.
	CatalogPath string
	// Secret is the HMAC key used to sign and verify bearer tokens.
	Secret []byte
	// TokenDuration is how long an issued token stays valid.
	TokenDuration time.Duration
	// Bootstrap starts a brand-new single-node cluster voting for itself.
	// Only the first node of a new cluster should set this.
	Bootstrap bool
	Logger    *slog.Logger
}

// Server is the durable master-index node (spec section 4.8): a raft group
// of one or more nodes that replicates catalog mutations before applying
// them to an embedded sqlitecat.Store, and a JSON+JWT HTTP API a Proxy
// forwards writes to.
type Server struct {
	cfg     ServerConfig
	logger  *slog.Logger
	store   *sqlitecat.Store
	fsm     *fsm
	raft    *raft.Raft
	tokens  *TokenService
	httpSrv *http.Server
	ln      net.Listener
}

// NewServer creates and starts a master-index Server: opens the embedded
// catalog, constructs the raft node (bootstrapping a new single-node
// cluster if cfg.Bootstrap is set), and starts the JSON RPC listener.
// This mirrors a typical raft-backed cluster node's startup wiring, minus
// a gRPC transport: raft uses its own raft.NewNetworkTransport over plain
// TCP instead of a generated gRPC service.
func NewServer(cfg ServerConfig) (*Server, error) {
	logger := barlog.Default(cfg.Logger).With("component", "barindex/remote", "node_id", cfg.NodeID)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raft data dir: %w", err)
	}

	store, err := sqlitecat.Open(cfg.CatalogPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open embedded catalog: %w", err)
	}

	f := newFSM(store)

	boltStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft.db"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open raft boltdb store: %w", err)
	}
	logStore, stableStore := raft.LogStore(boltStore), raft.StableStore(boltStore)

	snapshots, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.RaftAddr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resolve raft addr %s: %w", cfg.RaftAddr, err)
	}
	transport, err := raft.NewTCPTransport(cfg.RaftAddr, addr, 3, 10*time.Second, io.Discard)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open raft tcp transport: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.Logger = newSlogAdapter(logger, "raft")

	r, err := raft.NewRaft(raftCfg, f, logStore, stableStore, snapshots, transport)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("start raft node: %w", err)
	}

	if cfg.Bootstrap {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapshots)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("check existing raft state: %w", err)
		}
		if !hasState {
			cfgFuture := r.BootstrapCluster(raft.Configuration{
				Servers: []raft.Server{{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				}},
			})
			if err := cfgFuture.Error(); err != nil {
				store.Close()
				return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
			}
		}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		fsm:    f,
		raft:   r,
		tokens: NewTokenService(cfg.Secret, cfg.TokenDuration),
	}

	if err := s.serveHTTP(); err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// Close shuts down the HTTP listener, the raft node, and the embedded store.
func (s *Server) Close() error {
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	if s.raft != nil {
		_ = s.raft.Shutdown().Error()
	}
	return s.store.Close()
}

// AddVoter adds peer (id, addr) to the raft configuration. Must be called
// against the current leader.
func (s *Server) AddVoter(id, addr string, timeout time.Duration) error {
	return s.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, timeout).Error()
}

// Addr returns the bound HTTP listener address, useful when cfg.HTTPAddr
// asked for an ephemeral port (":0").
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// IsLeader reports whether this node currently holds raft leadership.
func (s *Server) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// LeaderHTTPAddr is a best-effort hint a Proxy can use to find the current
// leader's advertised raft address when this node itself is not leader.
// The master-index protocol has no address-resolution RPC of its own
// (spec's Open Question #2 scopes discovery to static configuration), so
// this exposes only what raft itself knows.
func (s *Server) LeaderHTTPAddr() string {
	addr, _ := s.raft.LeaderWithID()
	return string(addr)
}

func (s *Server) serveHTTP() error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen master-index http addr %s: %w", s.cfg.HTTPAddr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/apply", s.handleApply)
	mux.HandleFunc("/query", s.handleQuery)
	mux.HandleFunc("/status", s.handleStatus)
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("master-index http server stopped", "error", err)
		}
	}()
	return nil
}

type applyResponse struct {
	ID    barindex.IndexID `json:"id"`
	Error string           `json:"error,omitempty"`
	// LeaderAddr is set when this node rejects the call because it is not
	// the leader, so the caller can retry against the right node.
	LeaderAddr string `json:"leader_addr,omitempty"`
}

// handleApply is the single RPC endpoint a Proxy forwards mutating Catalog
// calls to: a bearer-authenticated POST whose body is an already
// msgpack-encoded command envelope (the same encoding Apply uses for the
// raft log itself, so the server need only validate and forward it).
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	subject, err := s.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	s.logger.Debug("master-index apply", "subject", subject)

	if !s.IsLeader() {
		writeJSON(w, http.StatusServiceUnavailable, applyResponse{
			Error:      "not leader",
			LeaderAddr: s.LeaderHTTPAddr(),
		})
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxApplyBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("read request body: %v", err), http.StatusBadRequest)
		return
	}
	if _, err := unmarshalCommand(data); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	future := s.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		writeJSON(w, http.StatusInternalServerError, applyResponse{Error: err.Error()})
		return
	}

	res, ok := future.Response().(result)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, applyResponse{Error: "malformed fsm response"})
		return
	}
	if err := res.toError(); err != nil {
		writeJSON(w, http.StatusOK, applyResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, applyResponse{ID: res.ID})
}

type queryResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// handleQuery serves List*/Lookup* Catalog reads directly from the local
// embedded store, bypassing raft.Apply: every node's store reflects all
// log entries committed up to its own apply cursor, so a read needs no
// cross-node round trip to be useful.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.authenticate(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxApplyBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("read request body: %v", err), http.StatusBadRequest)
		return
	}
	cmd, err := unmarshalCommand(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	queryResult, err := s.runQuery(r.Context(), cmd)
	if err != nil {
		writeJSON(w, http.StatusOK, queryResponse{Error: err.Error()})
		return
	}
	resultJSON, err := json.Marshal(queryResult)
	if err != nil {
		writeJSON(w, http.StatusOK, queryResponse{Error: fmt.Sprintf("marshal query result: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Result: resultJSON})
}

func (s *Server) runQuery(ctx context.Context, cmd command) (any, error) {
	switch cmd.Op {
	case opLookupPriorEntry:
		var a lookupPriorEntryArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return nil, err
		}
		return s.store.LookupPriorEntry(ctx, a.UUIDID, a.Name)

	case opListEntities:
		var a listArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return nil, err
		}
		return s.store.ListEntities(ctx, a.Filter, a.Order, a.Page)

	case opListStorages:
		var a listArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return nil, err
		}
		return s.store.ListStorages(ctx, a.Filter, a.Order, a.Page)

	case opListEntries:
		var a listArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return nil, err
		}
		return s.store.ListEntries(ctx, a.Filter, a.Order, a.Page)

	case opListHistory:
		var a listArgs
		if err := msgpack.Unmarshal(cmd.Args, &a); err != nil {
			return nil, err
		}
		return s.store.ListHistory(ctx, a.Filter, a.Order, a.Page)

	default:
		return nil, fmt.Errorf("unknown query opcode: %s", cmd.Op)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"leader":     s.IsLeader(),
		"leader_addr": s.LeaderHTTPAddr(),
		"state":      s.raft.State().String(),
	})
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", fmt.Errorf("%w: missing bearer token", barerr.ErrAuthFailed)
	}
	return s.tokens.Verify(strings.TrimPrefix(authz, prefix))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxApplyBodyBytes bounds a single command envelope's wire size.
const maxApplyBodyBytes = 4 << 20
