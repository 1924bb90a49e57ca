package token

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// Fetcher acquires a new token for a client. [*Acquirer] implements it.
type Fetcher interface {
	Acquire(ctx context.Context, id ClientIdentity) (*AccessToken, error)
}

// Source hands out the current token for one client and replaces a token
// the resource service rejected. [*Cache.Source] returns one.
type Source interface {
	Token(ctx context.Context) (*AccessToken, error)
	Refresh(ctx context.Context, rejected *AccessToken) (*AccessToken, error)
}

// CacheConfig configures a [Cache].
type CacheConfig struct {
	// RefreshMargin is how long before expiry a background re-acquisition
	// starts. The cached token keeps being served meanwhile.
	RefreshMargin time.Duration `json:"refresh_margin" yaml:"refresh_margin" env:"REFRESH_MARGIN" envDefault:"2m"`

	// ExpiryLeeway is the remaining lifetime below which a token is no
	// longer handed out. Callers then wait for a synchronous acquisition.
	ExpiryLeeway time.Duration `json:"expiry_leeway" yaml:"expiry_leeway" env:"EXPIRY_LEEWAY" envDefault:"10s"`

	// RequestTimeout bounds one acquisition, independently of the caller
	// that triggered it.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT" envDefault:"10s"`

	Logger         *slog.Logger         `json:"-" yaml:"-"`
	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
	MeterProvider  metric.MeterProvider `json:"-" yaml:"-"`
}

// Validate checks the cache settings.
func (c *CacheConfig) Validate() error {
	if c.ExpiryLeeway < 0 {
		return sserr.Newf(sserr.CodeValidation, "token: expiry leeway must not be negative, got %s", c.ExpiryLeeway)
	}
	if c.RefreshMargin <= c.ExpiryLeeway {
		return sserr.Newf(sserr.CodeValidation,
			"token: refresh margin (%s) must be larger than the expiry leeway (%s)", c.RefreshMargin, c.ExpiryLeeway)
	}
	if c.RequestTimeout <= 0 {
		return sserr.Newf(sserr.CodeValidation, "token: request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Cache holds one access token per client id.
//
// For a cached token with remaining lifetime r:
//
//	r > margin                 served as is
//	ExpiryLeeway < r <= margin served, one background refresh starts
//	r <= ExpiryLeeway          evicted, caller waits for a new token
//
// margin is RefreshMargin capped at half the token's lifetime, and never
// below ExpiryLeeway.
//
// Each client id has its own acquisition slot: concurrent callers share one
// in-flight request, and clients never block each other. A failed
// acquisition is reported to every waiting caller; the cache never falls
// back to an evicted token.
type Cache struct {
	fetcher Fetcher
	cfg     CacheConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	lookups metric.Int64Counter

	entries sync.Map // client id -> *cacheEntry

	mu     sync.Mutex
	closed bool // no background refreshes start once set
	bg     sync.WaitGroup
}

type cacheEntry struct {
	current    atomic.Pointer[AccessToken]
	refreshing atomic.Bool
	sf         singleflight.Group
}

// NewCache creates a cache that acquires tokens with fetcher. Zero
// durations take their defaults.
func NewCache(fetcher Fetcher, cfg CacheConfig) (*Cache, error) {
	if fetcher == nil {
		return nil, sserr.New(sserr.CodeValidation, "token: cache needs a fetcher")
	}
	if cfg.RefreshMargin == 0 {
		cfg.RefreshMargin = 2 * time.Minute
	}
	if cfg.ExpiryLeeway == 0 {
		cfg.ExpiryLeeway = 10 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	lookups, _ := mp.Meter(instrumentationName).Int64Counter("token.cache.lookups",
		metric.WithDescription("Token cache lookups, by result"))

	return &Cache{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		tracer:  tp.Tracer(instrumentationName),
		now:     time.Now,
		lookups: lookups,
	}, nil
}

// GetToken returns a usable token for id, acquiring one if needed.
func (c *Cache) GetToken(ctx context.Context, id ClientIdentity) (*AccessToken, error) {
	e := c.entry(id.ClientID)
	if tok := e.current.Load(); tok != nil {
		remaining := tok.Remaining(c.now())
		switch {
		case remaining > c.refreshMargin(tok):
			c.count(ctx, "hit")
			return tok, nil
		case remaining > c.cfg.ExpiryLeeway:
			c.count(ctx, "refresh_ahead")
			c.refreshInBackground(ctx, id, e, tok)
			return tok, nil
		}
		e.current.CompareAndSwap(tok, nil)
	}
	c.count(ctx, "miss")
	return c.acquire(ctx, id, e, nil)
}

// ForceRefresh evicts rejected and returns a new token. If the cache
// already holds a different usable token, for example because another
// caller refreshed first, that token is returned without a new request.
func (c *Cache) ForceRefresh(ctx context.Context, id ClientIdentity, rejected *AccessToken) (*AccessToken, error) {
	e := c.entry(id.ClientID)
	if cur := e.current.Load(); cur != nil {
		if rejected != nil && cur.Value == rejected.Value {
			e.current.CompareAndSwap(cur, nil)
		} else if c.usable(cur) {
			return cur, nil
		}
	}
	c.count(ctx, "forced")
	return c.acquire(ctx, id, e, rejected)
}

// Source binds the cache to one client.
func (c *Cache) Source(id ClientIdentity) Source {
	return &clientSource{cache: c, id: id}
}

// Invalidate drops the token cached for clientID.
func (c *Cache) Invalidate(clientID string) {
	c.entries.Delete(clientID)
}

// Close drops every cached token and waits for background refreshes to
// finish.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
	c.bg.Wait()
}

func (c *Cache) entry(clientID string) *cacheEntry {
	if v, ok := c.entries.Load(clientID); ok {
		return v.(*cacheEntry)
	}
	v, _ := c.entries.LoadOrStore(clientID, &cacheEntry{})
	return v.(*cacheEntry)
}

func (c *Cache) refreshMargin(tok *AccessToken) time.Duration {
	margin := c.cfg.RefreshMargin
	if lifetime := tok.ExpiresAt.Sub(tok.IssuedAt); !tok.IssuedAt.IsZero() && lifetime > 0 {
		margin = min(margin, lifetime/2)
	}
	return max(margin, c.cfg.ExpiryLeeway)
}

func (c *Cache) usable(tok *AccessToken) bool {
	return tok.Remaining(c.now()) > c.cfg.ExpiryLeeway
}

func (c *Cache) count(ctx context.Context, result string) {
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// acquire obtains a token through the entry's single acquisition slot. A
// caller that joins after another acquisition already stored a usable token
// other than rejected gets that token. The caller's ctx bounds the wait
// only; the request runs under RequestTimeout so the slot is always
// released.
func (c *Cache) acquire(ctx context.Context, id ClientIdentity, e *cacheEntry, rejected *AccessToken) (*AccessToken, error) {
	ch := e.sf.DoChan("acquire", func() (any, error) {
		if cur := e.current.Load(); cur != nil && c.usable(cur) &&
			(rejected == nil || cur.Value != rejected.Value) {
			return cur, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
		defer cancel()
		fetchCtx, span := startSpan(fetchCtx, c.tracer, "token.cache.Acquire",
			attribute.String("token.client_id", id.ClientID))
		defer span.End()

		tok, err := c.fetcher.Acquire(fetchCtx, id)
		if err != nil {
			finishSpan(span, err)
			return nil, err
		}
		e.current.Store(tok)
		c.logger.DebugContext(ctx, "token: acquired access token",
			"client_id", id.ClientID,
			"token", tok,
		)
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return nil, sserr.Wrap(ctx.Err(), sserr.CodeAcquisitionFailed,
			"token: gave up waiting for token acquisition").WithDetail("client_id", id.ClientID)
	case res := <-ch:
		if res.Err != nil {
			if _, ok := sserr.AsError(res.Err); ok {
				return nil, res.Err
			}
			return nil, sserr.Wrap(res.Err, sserr.CodeAcquisitionFailed,
				"token: token acquisition failed").WithDetail("client_id", id.ClientID)
		}
		return res.Val.(*AccessToken), nil
	}
}

// refreshInBackground starts at most one background re-acquisition per
// entry. On failure the still-valid token stays cached.
func (c *Cache) refreshInBackground(ctx context.Context, id ClientIdentity, e *cacheEntry, stale *AccessToken) {
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		e.refreshing.Store(false)
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.bg.Done()
		defer e.refreshing.Store(false)
		if _, err := c.acquire(bgCtx, id, e, stale); err != nil {
			c.logger.WarnContext(bgCtx, "token: background refresh failed, serving cached token until it expires",
				"client_id", id.ClientID,
				"expires_at", stale.ExpiresAt,
				"error", err,
			)
		}
	}()
}

// clientSource is a [Source] for one client identity.
type clientSource struct {
	cache *Cache
	id    ClientIdentity
}

func (s *clientSource) Token(ctx context.Context) (*AccessToken, error) {
	return s.cache.GetToken(ctx, s.id)
}

func (s *clientSource) Refresh(ctx context.Context, rejected *AccessToken) (*AccessToken, error) {
	return s.cache.ForceRefresh(ctx, s.id, rejected)
}
