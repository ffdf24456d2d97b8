package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"barchive/internal/barerr"
	"barchive/internal/barindex"
	"barchive/internal/barlog"
)

// ProxyConfig configures a Proxy.
type ProxyConfig struct {
	// MasterAddr is the master Server's HTTP base address ("http://host:port").
	MasterAddr string
	// Subject identifies this node to the master in the bearer tokens it issues.
	Subject string
	// Secret signs tokens locally (the Proxy and Server share the HMAC key;
	// there is no separate identity provider in this exercise).
	Secret []byte
	Client *http.Client
	Logger *slog.Logger
}

// Proxy implements barindex.Catalog entirely by forwarding to a master
// Server over HTTP with a bearer token — both the mutating calls (applied
// through the master's raft log) and the List*/Lookup* reads (served
// directly from the master's embedded store, bypassing raft.Apply). This
// is the "client decorator" half of spec section 4.8's master-index
// forwarding; remote.Server is the durable master half.
//
// A node-local cache is deliberately not kept: every IndexID the master
// returns is only meaningful against the master's own row numbering, so a
// second independently-keyed database on this host would drift from it.
type Proxy struct {
	cfg    ProxyConfig
	tokens *TokenService
	client *http.Client
	logger *slog.Logger
}

var _ barindex.Catalog = (*Proxy)(nil)

// NewProxy returns a ready Proxy. It performs no I/O; the master connection
// is only exercised on the first call.
func NewProxy(cfg ProxyConfig) *Proxy {
	logger := barlog.Default(cfg.Logger).With("component", "barindex/remote.proxy")

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	return &Proxy{
		cfg:    cfg,
		tokens: NewTokenService(cfg.Secret, time.Minute),
		client: client,
		logger: logger,
	}
}

// Close releases the Proxy's resources. The HTTP client needs none beyond
// what http.Client.Timeout already bounds.
func (p *Proxy) Close() error { return nil }

// send posts a msgpack-encoded command to the master's /apply endpoint and
// returns the fsm-applied result's IndexID, retrying once against the
// leader address the master reports if this node is not currently leader.
func (p *Proxy) send(ctx context.Context, op opcode, args any) (barindex.IndexID, error) {
	data, err := marshalCommand(op, args)
	if err != nil {
		return barindex.None, err
	}

	addr := p.cfg.MasterAddr
	for attempt := 0; attempt < 2; attempt++ {
		id, leaderAddr, err := p.post(ctx, addr+"/apply", data)
		if err == nil {
			return id, nil
		}
		if leaderAddr == "" {
			return barindex.None, err
		}
		addr = leaderAddr
	}
	return barindex.None, fmt.Errorf("master-index apply %s: %w", op, barerr.ErrNotReachable)
}

// query posts a msgpack-encoded read request to the master's /query
// endpoint. Reads are served directly from the master's embedded store
// without going through raft.Apply (spec section 4.8 treats List*/Lookup*
// as consistent-enough-to-read-locally).
func (p *Proxy) query(ctx context.Context, op opcode, args any, out any) error {
	data, err := marshalCommand(op, args)
	if err != nil {
		return err
	}

	token, err := p.tokens.Issue(p.cfg.Subject)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.MasterAddr+"/query", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/msgpack")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", barerr.ErrNotReachable, err)
	}
	defer resp.Body.Close()

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	if qr.Error != "" {
		return fmt.Errorf("master-index: %s", qr.Error)
	}
	if len(qr.Result) == 0 {
		return nil
	}
	return json.Unmarshal(qr.Result, out)
}

func (p *Proxy) post(ctx context.Context, url string, data []byte) (barindex.IndexID, string, error) {
	token, err := p.tokens.Issue(p.cfg.Subject)
	if err != nil {
		return barindex.None, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return barindex.None, "", fmt.Errorf("build apply request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/msgpack")

	resp, err := p.client.Do(req)
	if err != nil {
		return barindex.None, "", fmt.Errorf("%w: %v", barerr.ErrNotReachable, err)
	}
	defer resp.Body.Close()

	var out applyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return barindex.None, "", fmt.Errorf("decode apply response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return barindex.None, out.LeaderAddr, fmt.Errorf("master-index: %s", out.Error)
	}
	if out.Error != "" {
		return barindex.None, "", fmt.Errorf("master-index: %s", out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return barindex.None, "", fmt.Errorf("master-index apply: unexpected status %d", resp.StatusCode)
	}
	return out.ID, "", nil
}

// --- Catalog interface: every call forwards to the master ---

func (p *Proxy) NewUUID(ctx context.Context, jobUUID uuid.UUID) (barindex.IndexID, error) {
	return p.send(ctx, opNewUUID, newUUIDArgs{JobUUID: jobUUID})
}

func (p *Proxy) NewEntity(ctx context.Context, uuidID barindex.IndexID, scheduleUUID uuid.UUID, typ barindex.EntityType, created time.Time) (barindex.IndexID, error) {
	return p.send(ctx, opNewEntity, newEntityArgs{UUIDID: uuidID, ScheduleUUID: scheduleUUID, Type: typ, Created: created})
}

func (p *Proxy) UpdateEntityState(ctx context.Context, id barindex.IndexID, state barindex.EntityState) error {
	_, err := p.send(ctx, opUpdateEntityState, updateEntityStateArgs{ID: id, State: state})
	return err
}

func (p *Proxy) NewStorage(ctx context.Context, entityID barindex.IndexID, name string) (barindex.IndexID, error) {
	return p.send(ctx, opNewStorage, newStorageArgs{EntityID: entityID, Name: name})
}

func (p *Proxy) UpdateStorageState(ctx context.Context, id barindex.IndexID, state barindex.StorageState, errMsg string) error {
	_, err := p.send(ctx, opUpdateStorageState, updateStorageStateArgs{ID: id, State: state, ErrMsg: errMsg})
	return err
}

func (p *Proxy) AddFileEntry(ctx context.Context, storageID barindex.IndexID, f barindex.FileEntry) (barindex.IndexID, error) {
	return p.send(ctx, opAddFileEntry, addFileEntryArgs{StorageID: storageID, Entry: f})
}

func (p *Proxy) AddImageEntry(ctx context.Context, storageID barindex.IndexID, img barindex.ImageEntry) (barindex.IndexID, error) {
	return p.send(ctx, opAddImageEntry, addImageEntryArgs{StorageID: storageID, Entry: img})
}

func (p *Proxy) AddDirectoryEntry(ctx context.Context, storageID barindex.IndexID, d barindex.DirectoryEntry) (barindex.IndexID, error) {
	return p.send(ctx, opAddDirectoryEntry, addDirectoryEntryArgs{StorageID: storageID, Entry: d})
}

func (p *Proxy) AddLinkEntry(ctx context.Context, storageID barindex.IndexID, l barindex.LinkEntry) (barindex.IndexID, error) {
	return p.send(ctx, opAddLinkEntry, addLinkEntryArgs{StorageID: storageID, Entry: l})
}

func (p *Proxy) AddHardlinkEntry(ctx context.Context, storageID barindex.IndexID, h barindex.HardlinkEntry) (barindex.IndexID, error) {
	return p.send(ctx, opAddHardlinkEntry, addHardlinkEntryArgs{StorageID: storageID, Entry: h})
}

func (p *Proxy) AddSpecialEntry(ctx context.Context, storageID barindex.IndexID, s barindex.SpecialEntry) (barindex.IndexID, error) {
	return p.send(ctx, opAddSpecialEntry, addSpecialEntryArgs{StorageID: storageID, Entry: s})
}

func (p *Proxy) DeleteStorage(ctx context.Context, id barindex.IndexID) error {
	_, err := p.send(ctx, opDeleteStorage, deleteStorageArgs{ID: id})
	return err
}

func (p *Proxy) NewHistory(ctx context.Context, h barindex.History) (barindex.IndexID, error) {
	return p.send(ctx, opNewHistory, newHistoryArgs{History: h})
}

func (p *Proxy) DeleteHistory(ctx context.Context, id barindex.IndexID) error {
	_, err := p.send(ctx, opDeleteHistory, deleteHistoryArgs{ID: id})
	return err
}

// --- Catalog interface: reads forward to the master's /query endpoint ---

func (p *Proxy) LookupPriorEntry(ctx context.Context, uuidID barindex.IndexID, name string) (*barindex.PriorEntry, error) {
	var out *barindex.PriorEntry
	err := p.query(ctx, opLookupPriorEntry, lookupPriorEntryArgs{UUIDID: uuidID, Name: name}, &out)
	return out, err
}

func (p *Proxy) ListEntities(ctx context.Context, f barindex.Filter, o barindex.Order, pg barindex.Page) ([]barindex.Entity, error) {
	var out []barindex.Entity
	err := p.query(ctx, opListEntities, listArgs{Filter: f, Order: o, Page: pg}, &out)
	return out, err
}

func (p *Proxy) ListStorages(ctx context.Context, f barindex.Filter, o barindex.Order, pg barindex.Page) ([]barindex.Storage, error) {
	var out []barindex.Storage
	err := p.query(ctx, opListStorages, listArgs{Filter: f, Order: o, Page: pg}, &out)
	return out, err
}

func (p *Proxy) ListEntries(ctx context.Context, f barindex.Filter, o barindex.Order, pg barindex.Page) ([]barindex.Entry, error) {
	var out []barindex.Entry
	err := p.query(ctx, opListEntries, listArgs{Filter: f, Order: o, Page: pg}, &out)
	return out, err
}

func (p *Proxy) ListHistory(ctx context.Context, f barindex.Filter, o barindex.Order, pg barindex.Page) ([]barindex.History, error) {
	var out []barindex.History
	err := p.query(ctx, opListHistory, listArgs{Filter: f, Order: o, Page: pg}, &out)
	return out, err
}
