package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	catalogKeyPrefix = "catalog:"
	publicCatalogKey = catalogKeyPrefix + "only_available:true"
)

type CatalogCacheConfig struct {
	TTL        time.Duration
	VersionTTL time.Duration
}

func DefaultCatalogCacheConfig() CatalogCacheConfig {
	return CatalogCacheConfig{
		TTL:        10 * time.Minute,
		VersionTTL: 10 * time.Second,
	}
}

// CatalogSnapshot is a serialized catalog plus its content fingerprint.
type CatalogSnapshot struct {
	Payload     []byte
	Fingerprint string
	Version     string
}

type catalogEntry struct {
	CatalogSnapshot
	expiresAt time.Time
}

// distributedEntry is the value stored in the shared tier.
type distributedEntry struct {
	Version     string          `json:"version"`
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
}

// CatalogCache serves the public catalog from an in-process entry, then the
// distributed tier, then a rebuild from the store. An entry is servable only
// while its TTL holds and its version equals the persisted version token.
type CatalogCache struct {
	repo   port.CatalogRepository
	state  port.CatalogStateRepository
	dist   port.CacheRepository
	events *Broadcaster
	tasks  port.TaskRunner
	logger zerolog.Logger
	cfg    CatalogCacheConfig
	now    func() time.Time

	// mu guards entry and the version cache. No I/O happens under it.
	// generation counts invalidations; a version read that started before
	// one must not be cached.
	mu             sync.RWMutex
	entry          *catalogEntry
	version        string
	versionExpires time.Time
	generation     uint64

	rebuildMu sync.Mutex
}

func NewCatalogCache(
	repo port.CatalogRepository,
	state port.CatalogStateRepository,
	dist port.CacheRepository,
	events *Broadcaster,
	tasks port.TaskRunner,
	logger zerolog.Logger,
	cfg CatalogCacheConfig,
) *CatalogCache {
	def := DefaultCatalogCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.VersionTTL <= 0 {
		cfg.VersionTTL = def.VersionTTL
	}
	return &CatalogCache{
		repo:   repo,
		state:  state,
		dist:   dist,
		events: events,
		tasks:  tasks,
		logger: logger.With().Str("component", "catalog_cache").Logger(),
		cfg:    cfg,
		now:    time.Now,
	}
}

// GetCatalog returns the public catalog. forceRefresh skips both cache tiers.
func (c *CatalogCache) GetCatalog(ctx context.Context, forceRefresh bool) (*CatalogSnapshot, error) {
	version, err := c.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	if !forceRefresh {
		if e := c.servable(version); e != nil {
			return &e.CatalogSnapshot, nil
		}
		if snap := c.readDistributed(ctx, version); snap != nil {
			c.install(snap)
			return snap, nil
		}
	}

	snap, built, err := c.rebuild(ctx, version, forceRefresh)
	if err != nil {
		return nil, err
	}
	if built {
		c.writeDistributed(ctx, snap)
	}
	return snap, nil
}

// Lookup is GetCatalog with entity tag short-circuit. notModified is true
// when ifNoneMatch already names the current fingerprint.
func (c *CatalogCache) Lookup(ctx context.Context, ifNoneMatch string) (snap *CatalogSnapshot, notModified bool, err error) {
	snap, err = c.GetCatalog(ctx, false)
	if err != nil {
		return nil, false, err
	}
	return snap, MatchesFingerprint(ifNoneMatch, snap.Fingerprint), nil
}

// AdminCatalog always rebuilds, includes unavailable products and never
// touches either cache tier.
func (c *CatalogCache) AdminCatalog(ctx context.Context) (*CatalogSnapshot, error) {
	catalog, err := c.build(ctx, true)
	if err != nil {
		return nil, err
	}
	payload, fingerprint, err := Fingerprint("", catalog)
	if err != nil {
		return nil, err
	}
	return &CatalogSnapshot{Payload: payload, Fingerprint: fingerprint}, nil
}

// Invalidate drops both tiers, persists a fresh version token and schedules
// a warm-up rebuild.
func (c *CatalogCache) Invalidate(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.entry = nil
	c.generation++
	c.mu.Unlock()

	if c.dist != nil {
		if err := c.dist.DeletePrefix(ctx, catalogKeyPrefix); err != nil {
			c.logger.Warn().Err(err).Msg("clear distributed catalog entries")
		}
	}

	version := uuid.NewString()
	if err := c.state.SetCatalogVersion(ctx, version); err != nil {
		return "", fmt.Errorf("%w: bump catalog version: %w", domain.ErrStorage, err)
	}

	c.mu.Lock()
	c.entry = nil
	c.version = version
	c.versionExpires = c.now().Add(c.cfg.VersionTTL)
	c.generation++
	c.mu.Unlock()

	if c.events != nil {
		c.events.Broadcast(domain.Event{Kind: domain.EventCatalog, CatalogVersion: version, At: c.now()})
	}
	if c.tasks != nil {
		c.tasks.Go("catalog-warmup", func(ctx context.Context) error {
			_, err := c.GetCatalog(ctx, false)
			return err
		})
	}
	return version, nil
}

func (c *CatalogCache) currentVersion(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.now().Before(c.versionExpires) {
		v := c.version
		c.mu.RUnlock()
		return v, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	version, err := c.state.GetCatalogVersion(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		version, err = "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: load catalog version: %w", domain.ErrStorage, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		// An invalidation ran while the store was being read
		if c.now().Before(c.versionExpires) {
			return c.version, nil
		}
		return version, nil
	}
	c.version = version
	c.versionExpires = c.now().Add(c.cfg.VersionTTL)
	return version, nil
}

func (c *CatalogCache) servable(version string) *catalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e := c.entry
	if e == nil || e.Version != version || !c.now().Before(e.expiresAt) {
		return nil
	}
	return e
}

// install keeps snap unless the known version has already moved past it.
func (c *CatalogCache) install(snap *CatalogSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Version != c.version && c.now().Before(c.versionExpires) {
		return
	}
	c.entry = &catalogEntry{CatalogSnapshot: *snap, expiresAt: c.now().Add(c.cfg.TTL)}
}

// rebuild holds rebuildMu only across the double check and the store reads.
func (c *CatalogCache) rebuild(ctx context.Context, version string, force bool) (*CatalogSnapshot, bool, error) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	if !force {
		if e := c.servable(version); e != nil {
			return &e.CatalogSnapshot, false, nil
		}
	}

	catalog, err := c.build(ctx, false)
	if err != nil {
		return nil, false, err
	}
	payload, fingerprint, err := Fingerprint(version, catalog)
	if err != nil {
		return nil, false, err
	}

	snap := &CatalogSnapshot{Payload: payload, Fingerprint: fingerprint, Version: version}
	c.install(snap)
	c.logger.Debug().
		Str("version", version).
		Str("fingerprint", fingerprint).
		Int("products", len(catalog.Products)).
		Msg("catalog rebuilt")
	return snap, true, nil
}

func (c *CatalogCache) build(ctx context.Context, includeUnavailable bool) (*domain.Catalog, error) {
	var (
		categories []domain.Category
		products   []domain.Product
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		categories, err = c.repo.ListCategories(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		products, err = c.repo.ListProducts(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: read catalog: %w", domain.ErrStorage, err)
	}

	catalog := &domain.Catalog{
		Categories: make([]domain.Category, 0, len(categories)),
		Products:   make([]domain.Product, 0, len(products)),
	}
	for _, cat := range categories {
		if cat.ID == "" || strings.TrimSpace(cat.Name) == "" {
			continue
		}
		catalog.Categories = append(catalog.Categories, cat)
	}

	skipped := 0
	for _, p := range products {
		if !p.Valid() {
			skipped++
			continue
		}
		if includeUnavailable {
			catalog.Products = append(catalog.Products, p)
			continue
		}
		if p.Available {
			catalog.Products = append(catalog.Products, p.PublicView())
		}
	}
	if skipped > 0 {
		c.logger.Warn().Int("skipped", skipped).Msg("malformed products left out of catalog")
	}
	return catalog, nil
}

func (c *CatalogCache) readDistributed(ctx context.Context, version string) *CatalogSnapshot {
	if c.dist == nil {
		return nil
	}
	raw, err := c.dist.Get(ctx, publicCatalogKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read distributed catalog")
		return nil
	}
	if raw == nil {
		return nil
	}

	var de distributedEntry
	if err := json.Unmarshal(raw, &de); err != nil {
		c.logger.Warn().Err(err).Msg("decode distributed catalog")
		return nil
	}
	if de.Version != version || de.Fingerprint == "" {
		return nil
	}
	return &CatalogSnapshot{Payload: []byte(de.Payload), Fingerprint: de.Fingerprint, Version: de.Version}
}

func (c *CatalogCache) writeDistributed(ctx context.Context, snap *CatalogSnapshot) {
	if c.dist == nil {
		return
	}
	raw, err := json.Marshal(distributedEntry{
		Version:     snap.Version,
		Fingerprint: snap.Fingerprint,
		Payload:     snap.Payload,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode distributed catalog")
		return
	}
	if err := c.dist.Set(ctx, publicCatalogKey, raw, c.cfg.TTL); err != nil {
		c.logger.Warn().Err(err).Msg("write distributed catalog")
	}
}

// Fingerprint serializes v with sorted keys and hashes it together with the
// version token. Equal content under one version always yields the same
// fingerprint; a version bump always yields a new one.
func Fingerprint(version string, v any) ([]byte, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("marshal catalog: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, "", fmt.Errorf("canonicalize catalog: %w", err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize catalog: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(version))
	h.Write([]byte{0})
	h.Write(canonical)
	return canonical, hex.EncodeToString(h.Sum(nil)), nil
}

// MatchesFingerprint compares an If-None-Match style value against fingerprint.
func MatchesFingerprint(tag, fingerprint string) bool {
	if tag == "" || fingerprint == "" {
		return false
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "*" {
			return true
		}
		part = strings.TrimPrefix(part, "W/")
		if strings.Trim(part, `"`) == fingerprint {
			return true
		}
	}
	return false
}
