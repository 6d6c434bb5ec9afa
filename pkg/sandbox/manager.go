package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/appforge/sandboxd/pkg/cache"
	"github.com/appforge/sandboxd/pkg/e2b"
)

const killTimeout = 10 * time.Second

// ManagerConfig carries the tunables of the lifecycle manager. Zero
// values are replaced by the defaults below.
type ManagerConfig struct {
	// Template is the sandbox template id used for creation.
	Template string

	// SandboxTimeout is the per-sandbox lifetime requested from the
	// remote service.
	SandboxTimeout time.Duration

	// MaxPerUser caps sandboxes one user may hold across projects.
	MaxPerUser int

	// MaxTotal caps the pool size across all tenants in this process.
	MaxTotal int

	// IdleTimeout evicts entries unused for this long.
	IdleTimeout time.Duration

	// MaxAge recycles entries older than this even when active.
	MaxAge time.Duration

	// MaxRetries bounds creation attempts on transient failures.
	MaxRetries int

	// RetryDelay is the base of the exponential creation backoff.
	RetryDelay time.Duration

	// FreshWindow is how long after the last use a pool entry is
	// trusted without a remote health probe.
	FreshWindow time.Duration

	// HealthTimeout bounds the remote health probe.
	HealthTimeout time.Duration

	// ReconnectTimeout bounds reattaching to a cached sandbox id. Kept
	// tunable: resuming a paused sandbox under load can need more than
	// the default.
	ReconnectTimeout time.Duration

	// ReapInterval is the background cleanup period.
	ReapInterval time.Duration
}

// DefaultManagerConfig mirrors the service's production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Template:         e2b.DefaultTemplate,
		SandboxTimeout:   500 * time.Second,
		MaxPerUser:       2,
		MaxTotal:         100,
		IdleTimeout:      500 * time.Second,
		MaxAge:           900 * time.Second,
		MaxRetries:       2,
		RetryDelay:       time.Second,
		FreshWindow:      30 * time.Second,
		HealthTimeout:    3 * time.Second,
		ReconnectTimeout: 5 * time.Second,
		ReapInterval:     30 * time.Second,
	}
}

func (c *ManagerConfig) applyDefaults() {
	def := DefaultManagerConfig()
	if c.Template == "" {
		c.Template = def.Template
	}
	if c.SandboxTimeout <= 0 {
		c.SandboxTimeout = def.SandboxTimeout
	}
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = def.MaxPerUser
	}
	if c.MaxTotal <= 0 {
		c.MaxTotal = def.MaxTotal
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MaxAge <= 0 {
		c.MaxAge = def.MaxAge
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.FreshWindow <= 0 {
		c.FreshWindow = def.FreshWindow
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = def.HealthTimeout
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = def.ReconnectTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
}

// CacheTTL is the distributed cache TTL: at least as long as either
// pool expiration window, so the cache never forgets a sandbox the pool
// still considers valid.
func (c *ManagerConfig) CacheTTL() time.Duration {
	if c.IdleTimeout > c.MaxAge {
		return c.IdleTimeout
	}
	return c.MaxAge
}

// Manager coordinates the pool, the distributed cache and the remote
// sandbox service so that concurrent requests across replicas converge
// on a single live sandbox per tenant.
type Manager struct {
	cfg     ManagerConfig
	client  Client
	store   cache.Store
	journal *Journal

	pool  *Pool
	locks *lockRegistry
	stats *Stats
	feed  *Feed

	tracer trace.Tracer

	reapCancel context.CancelFunc
	reapDone   chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
}

// New builds a manager. client is required; store may be
// cache.Disabled{}; journal may be nil.
func New(cfg ManagerConfig, client Client, store cache.Store, journal *Journal) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("sandbox client is required")
	}
	if store == nil {
		store = cache.Disabled{}
	}
	cfg.applyDefaults()

	return &Manager{
		cfg:     cfg,
		client:  client,
		store:   store,
		journal: journal,
		pool:    NewPool(),
		locks:   newLockRegistry(),
		stats:   &Stats{},
		feed:    NewFeed(),
		tracer:  otel.Tracer("sandboxd/manager"),
	}, nil
}

// Start launches the background reaper. Safe to call once; later calls
// are no-ops.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		m.reapCancel = cancel
		m.reapDone = make(chan struct{})
		go m.reapLoop(ctx)

		log.Info().
			Str("template", m.cfg.Template).
			Int("max_per_user", m.cfg.MaxPerUser).
			Int("max_total", m.cfg.MaxTotal).
			Dur("idle_timeout", m.cfg.IdleTimeout).
			Dur("max_age", m.cfg.MaxAge).
			Msg("Sandbox lifecycle manager started")
	})
}

// Events exposes the lifecycle event feed.
func (m *Manager) Events() *Feed {
	return m.feed
}

// Acquire returns a ready-to-use sandbox handle for the tenant,
// applying the pool, cache, create fallback chain. Concurrent calls for
// the same tenant serialize on the tenant lock; different tenants
// proceed in parallel.
func (m *Manager) Acquire(ctx context.Context, userID, projectID string, opts ...AcquireOption) (Handle, error) {
	m.stats.IncRequests()

	key := TenantKey{UserID: userID, ProjectID: projectID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var o acquireOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := m.tracer.Start(ctx, "sandbox.acquire", trace.WithAttributes(
		attribute.String("tenant.user_id", userID),
		attribute.String("tenant.project_id", projectID),
	))
	defer span.End()

	lock := m.locks.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	// Step 1: in-process pool.
	if entry := m.pool.Get(key); entry != nil {
		if time.Since(entry.LastActivity) < m.cfg.FreshWindow {
			entry.Touch()
			span.SetAttributes(attribute.String("acquire.source", "pool_fresh"))
			log.Debug().
				Str("user_id", userID).Str("project_id", projectID).
				Str("sandbox_id", entry.Handle.SandboxID()).
				Msg("Pool hit, fresh")
			return entry.Handle, nil
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
		err := entry.Handle.Ping(probeCtx)
		cancel()
		if err == nil {
			entry.Touch()
			span.SetAttributes(attribute.String("acquire.source", "pool_verified"))
			log.Debug().
				Str("user_id", userID).Str("project_id", projectID).
				Str("sandbox_id", entry.Handle.SandboxID()).
				Msg("Pool hit, verified")
			return entry.Handle, nil
		}

		log.Warn().Err(err).
			Str("user_id", userID).Str("project_id", projectID).
			Str("sandbox_id", entry.Handle.SandboxID()).
			Msg("Health check failed, dropping pool entry")
		m.pool.Remove(key)
	}

	// Step 2: distributed cache.
	if cachedID := m.cacheGet(ctx, key); cachedID != "" {
		handle, err := m.reconnect(ctx, key, cachedID)
		if err == nil {
			m.stats.IncHits()
			span.SetAttributes(attribute.String("acquire.source", "cache_reconnect"))
			m.publish(Event{Type: EventReconnected, UserID: userID, ProjectID: projectID, SandboxID: cachedID})
			log.Info().
				Str("user_id", userID).Str("project_id", projectID).
				Str("sandbox_id", cachedID).
				Msg("Reconnected to cached sandbox")
			return handle, nil
		}
		if !isRemoteFailure(err) {
			return nil, &UnexpectedSandboxError{Stage: "reconnect", Err: err}
		}
		log.Warn().Err(err).
			Str("user_id", userID).Str("project_id", projectID).
			Str("sandbox_id", cachedID).
			Msg("Reconnect failed, evicting stale cache record")
		m.cacheDelete(ctx, key)
		m.stats.IncMisses()
	} else {
		m.stats.IncMisses()
	}

	// Step 3: quotas, then creation.
	if m.pool.Len() >= m.cfg.MaxTotal {
		m.stats.IncRejected()
		return nil, &ResourceExhaustedError{Scope: QuotaScopeGlobal, Limit: m.cfg.MaxTotal}
	}
	if m.pool.CountForUser(userID) >= m.cfg.MaxPerUser {
		m.stats.IncRejected()
		return nil, &ResourceExhaustedError{Scope: QuotaScopePerUser, UserID: userID, Limit: m.cfg.MaxPerUser}
	}

	handle, err := m.createWithRetry(ctx, key, o)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("acquire.source", "created"))
	return handle, nil
}

// reconnect attaches to a cached sandbox id, resuming it if paused, and
// verifies it responds before inserting a fresh pool entry.
func (m *Manager) reconnect(ctx context.Context, key TenantKey, sandboxID string) (Handle, error) {
	connectCtx, cancel := context.WithTimeout(ctx, m.cfg.ReconnectTimeout)
	handle, err := m.client.Connect(connectCtx, sandboxID, int(m.cfg.SandboxTimeout.Seconds()))
	cancel()
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	err = handle.Ping(probeCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	m.pool.Put(key, &Entry{
		Handle:       handle,
		Key:          key,
		CreatedAt:    now,
		LastActivity: now,
		RequestCount: 1,
	})
	return handle, nil
}

func (m *Manager) createWithRetry(ctx context.Context, key TenantKey, o acquireOptions) (Handle, error) {
	metadata := map[string]string{
		"user_id":    key.UserID,
		"project_id": key.ProjectID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range o.metadata {
		metadata[k] = v
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		handle, err := m.client.Create(ctx, e2b.CreateOptions{
			TemplateID: m.cfg.Template,
			TimeoutSec: int(m.cfg.SandboxTimeout.Seconds()),
			Metadata:   metadata,
			Env:        o.env,
		})
		if err == nil {
			now := time.Now()
			m.pool.Put(key, &Entry{
				Handle:       handle,
				Key:          key,
				CreatedAt:    now,
				LastActivity: now,
				RequestCount: 1,
			})
			m.stats.IncCreated()
			m.cacheSet(ctx, key, handle.SandboxID(), m.cfg.CacheTTL())
			m.publish(Event{Type: EventCreated, UserID: key.UserID, ProjectID: key.ProjectID, SandboxID: handle.SandboxID()})
			log.Info().
				Str("user_id", key.UserID).Str("project_id", key.ProjectID).
				Str("sandbox_id", handle.SandboxID()).
				Int("active", m.pool.Len()).
				Msg("Sandbox created")
			return handle, nil
		}

		if !isRemoteFailure(err) {
			return nil, &UnexpectedSandboxError{Stage: "create", Err: err}
		}
		if !e2b.IsTransient(err) {
			return nil, &UnexpectedSandboxError{Stage: "create", Err: err}
		}

		lastErr = err
		if attempt < m.cfg.MaxRetries {
			delay := m.cfg.RetryDelay * (1 << (attempt - 1))
			log.Warn().Err(err).
				Str("user_id", key.UserID).Str("project_id", key.ProjectID).
				Int("attempt", attempt).Dur("retry_in", delay).
				Msg("Sandbox creation failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, &TransientSandboxError{Stage: "create", Attempts: m.cfg.MaxRetries, Err: lastErr}
}

// Release kills and forgets the tenant's sandbox. Releasing a tenant
// with no sandbox is a no-op success.
func (m *Manager) Release(ctx context.Context, userID, projectID string) error {
	key := TenantKey{UserID: userID, ProjectID: projectID}
	if err := key.Validate(); err != nil {
		return err
	}

	lock := m.locks.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	m.removeSandbox(ctx, key, EventClosed, "")
	return nil
}

// removeSandbox is the single removal path: best-effort remote kill,
// pool removal, cache eviction, cleanup counter. Callers hold the
// tenant's lock.
func (m *Manager) removeSandbox(ctx context.Context, key TenantKey, evtType EventType, detail string) {
	entry := m.pool.Remove(key)
	if entry != nil {
		sandboxID := entry.Handle.SandboxID()

		killCtx, cancel := context.WithTimeout(ctx, killTimeout)
		if err := entry.Handle.Kill(killCtx); err != nil {
			log.Warn().Err(err).
				Str("user_id", key.UserID).Str("project_id", key.ProjectID).
				Str("sandbox_id", sandboxID).
				Msg("Failed to kill sandbox")
		}
		cancel()

		m.stats.IncCleaned()
		m.publish(Event{Type: evtType, UserID: key.UserID, ProjectID: key.ProjectID, SandboxID: sandboxID, Detail: detail})
		log.Info().
			Str("user_id", key.UserID).Str("project_id", key.ProjectID).
			Str("sandbox_id", sandboxID).
			Str("reason", string(evtType)).
			Msg("Sandbox removed")
	}

	m.cacheDelete(ctx, key)
}

// Stats returns a point-in-time snapshot of the counters.
func (m *Manager) Stats() StatsSnapshot {
	return m.stats.Snapshot(m.pool.Len())
}

// Healthy reports whether the distributed cache is reachable. The
// manager itself keeps working without it.
func (m *Manager) Healthy(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Journal returns the lifecycle journal, or nil when journaling is off.
func (m *Manager) Journal() *Journal {
	return m.journal
}

// reapLoop runs until its context is cancelled.
func (m *Manager) reapLoop(ctx context.Context) {
	defer close(m.reapDone)

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce(ctx)
		}
	}
}

// reapOnce scans a snapshot of the pool and removes idle and over-age
// entries. Eligibility is checked under the tenant lock so an entry
// touched after the snapshot survives, and remote kill calls never run
// under the pool lock. One tenant's failure never aborts the cycle for
// the others.
func (m *Manager) reapOnce(ctx context.Context) {
	for _, snap := range m.pool.Snapshot() {
		lock := m.locks.lockFor(snap.Key)
		lock.Lock()
		current := m.pool.Get(snap.Key)
		if current == nil {
			lock.Unlock()
			continue
		}
		evtType, detail := m.reapPolicy(current)
		if evtType == "" {
			lock.Unlock()
			continue
		}
		m.removeSandbox(ctx, snap.Key, evtType, detail)
		lock.Unlock()
	}

	if pruned := m.locks.Prune(m.pool.Keys()); pruned > 0 {
		log.Debug().Int("pruned", pruned).Msg("Pruned unused tenant locks")
	}
}

// reapPolicy reports why an entry should go, or "" to keep it. The idle
// policy is checked first, then the age policy, which applies even to
// recently active entries.
func (m *Manager) reapPolicy(entry *Entry) (EventType, string) {
	if entry.Idle(m.cfg.IdleTimeout) {
		return EventReapedIdle, fmt.Sprintf("idle > %s", m.cfg.IdleTimeout)
	}
	if entry.Expired(m.cfg.MaxAge) {
		return EventReapedAge, fmt.Sprintf("age > %s", m.cfg.MaxAge)
	}
	return "", ""
}

// Shutdown stops the reaper, kills every pooled sandbox and logs the
// final counters.
func (m *Manager) Shutdown(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		if m.reapCancel != nil {
			m.reapCancel()
			select {
			case <-m.reapDone:
			case <-ctx.Done():
				err = ctx.Err()
				return
			}
		}

		for _, entry := range m.pool.Snapshot() {
			lock := m.locks.lockFor(entry.Key)
			lock.Lock()
			m.removeSandbox(ctx, entry.Key, EventClosed, "shutdown")
			lock.Unlock()
		}

		m.feed.Close()
		if m.journal != nil {
			if cerr := m.journal.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("Failed to close lifecycle journal")
			}
		}

		snap := m.Stats()
		log.Info().
			Int64("total_created", snap.TotalCreated).
			Int64("cache_hits", snap.CacheHits).
			Float64("cache_hit_rate", snap.CacheHitRate).
			Int64("cleaned_up", snap.CleanedUp).
			Msg("Sandbox lifecycle manager stopped")
	})
	return err
}

// Cache helpers. The store implementations bound their own I/O and log
// their own warnings; the manager only ever degrades a cache failure to
// a miss, never surfaces it.

func (m *Manager) cacheGet(ctx context.Context, key TenantKey) string {
	id, err := m.store.Get(ctx, cache.Key(key.UserID, key.ProjectID))
	if err != nil {
		return ""
	}
	return id
}

func (m *Manager) cacheSet(ctx context.Context, key TenantKey, sandboxID string, ttl time.Duration) {
	// Best effort: a write that fails just means the next cold start
	// creates instead of reconnecting.
	_ = m.store.Set(ctx, cache.Key(key.UserID, key.ProjectID), sandboxID, ttl)
}

func (m *Manager) cacheDelete(ctx context.Context, key TenantKey) {
	_ = m.store.Delete(ctx, cache.Key(key.UserID, key.ProjectID))
}

func (m *Manager) publish(evt Event) {
	if evt.ID == "" {
		evt.ID = newEventID()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if m.journal != nil {
		m.journal.Record(evt)
	}
	m.feed.Publish(evt)
}

// isRemoteFailure reports whether the error came from the remote API or
// its transport, as opposed to a local programming error. Remote
// failures trigger the documented fallback chain; anything else is
// fatal.
func isRemoteFailure(err error) bool {
	var apiErr *e2b.APIError
	if errors.As(err, &apiErr) {
		return true
	}
	return e2b.Classify(err) != e2b.FailureOther
}
