package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/utils/cache"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/utils/cache/loadercache"
)

// ErrResourceAbsent is returned when the vendor answers 404.
var ErrResourceAbsent = errors.New("resource absent")

const DefaultUserAgent = "livetiming-gateway/1.0"

type (
	FetchOption func(*Fetcher)
	// Fetcher performs http GET requests against vendor endpoints.
	// Each Resource created by a fetcher has its own cache and time to live.
	Fetcher struct {
		client    *http.Client
		userAgent string
		cacheBust bool
		l         *log.Logger
		tracer    trace.Tracer
		now       func() time.Time
	}
	Resource struct {
		f     *Fetcher
		name  string
		cache cache.Cache[string, []byte]
	}
)

func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithCacheBusting appends t=<unix seconds> to every request url.
func WithCacheBusting(enabled bool) FetchOption {
	return func(f *Fetcher) {
		f.cacheBust = enabled
	}
}

func WithFetchLogger(l *log.Logger) FetchOption {
	return func(f *Fetcher) {
		f.l = l
	}
}

func WithTracer(t trace.Tracer) FetchOption {
	return func(f *Fetcher) {
		f.tracer = t
	}
}

func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: DefaultUserAgent,
		l:         log.Default().Named("fetch"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.tracer == nil {
		f.tracer = otel.Tracer("ltg")
	}
	return f
}

// Resource creates a cached resource. Responses are kept for ttl,
// errors (including ErrResourceAbsent) are never cached.
func (f *Fetcher) Resource(name string, ttl time.Duration) *Resource {
	return &Resource{
		f:    f,
		name: name,
		cache: loadercache.New(
			loadercache.WithExpiration[string, []byte](ttl),
			loadercache.WithLoader[string, []byte](f.load),
			loadercache.WithLogger[string, []byte](f.l.Named(name)),
		),
	}
}

// Get returns the body of url. The cache key is the url without cache
// busting parameter.
func (r *Resource) Get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, span := r.f.tracer.Start(ctx, "fetch."+r.name,
		trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()
	data, err := r.cache.Get(ctx, rawURL)
	if err != nil {
		if !errors.Is(err, ErrResourceAbsent) {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return *data, nil
}

// GetJSON fetches url and decodes the body (JSONP wrappers are removed) into v.
func (r *Resource) GetJSON(ctx context.Context, rawURL string, v any) error {
	data, err := r.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(StripJSONP(data), v); err != nil {
		return fmt.Errorf("decode %s: %w", r.name, err)
	}
	return nil
}

// Invalidate drops all cached responses of this resource.
func (r *Resource) Invalidate(ctx context.Context) {
	r.cache.InvalidateAll(ctx)
}

func (f *Fetcher) load(ctx context.Context, rawURL string) (*[]byte, error) {
	target := rawURL
	if f.cacheBust {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("t", strconv.FormatInt(f.now().Unix(), 10))
		u.RawQuery = q.Encode()
		target = u.String()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		f.l.Debug("resource absent", log.String("url", rawURL))
		return nil, ErrResourceAbsent
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return &data, nil
}

// StripJSONP removes a wrapper like callback({...}); around a json document.
// Plain json is returned unchanged.
func StripJSONP(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	start := bytes.IndexByte(trimmed, '(')
	end := bytes.LastIndexByte(trimmed, ')')
	if start < 0 || end <= start {
		return trimmed
	}
	return bytes.TrimSpace(trimmed[start+1 : end])
}
