// Package health probes the vendor endpoints the gateway depends on.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/indycar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/polling/nascar"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/signalr"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/livetiming/sockjs"
	"github.com/mpapenbr/livetiming-gateway-go/pkg/model"
)

// Result is the outcome of one probe
type Result struct {
	Name      string         `json:"name"`
	Series    []model.Series `json:"series"`
	URL       string         `json:"url"`
	Reachable bool           `json:"reachable"`
	Status    int            `json:"status,omitempty"`
	LatencyMs int64          `json:"latencyMs"`
	Detail    string         `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type (
	Option  func(*Checker)
	Checker struct {
		client     *http.Client
		alkamelURL string
		f1URL      string
		nascarURL  string
		indycarURL string
		timeout    time.Duration
		now        func() time.Time
		l          *log.Logger
	}
)

func WithHTTPClient(c *http.Client) Option {
	return func(ch *Checker) {
		ch.client = c
	}
}

// WithAlkamelURL sets the base url of the SockJS service (https://host)
func WithAlkamelURL(u string) Option {
	return func(ch *Checker) {
		ch.alkamelURL = strings.TrimSuffix(u, "/")
	}
}

func WithF1URL(u string) Option {
	return func(ch *Checker) {
		ch.f1URL = strings.TrimSuffix(u, "/")
	}
}

func WithNascarURL(u string) Option {
	return func(ch *Checker) {
		ch.nascarURL = strings.TrimSuffix(u, "/")
	}
}

func WithIndycarURL(u string) Option {
	return func(ch *Checker) {
		ch.indycarURL = strings.TrimSuffix(u, "/")
	}
}

// WithTimeout bounds every single probe
func WithTimeout(d time.Duration) Option {
	return func(ch *Checker) {
		ch.timeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(ch *Checker) {
		ch.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(ch *Checker) {
		ch.l = l
	}
}

func NewChecker(opts ...Option) *Checker {
	ret := &Checker{
		client:     &http.Client{},
		alkamelURL: "https://" + sockjs.DefaultHost,
		f1URL:      signalr.DefaultHTTPBaseURL,
		nascarURL:  nascar.DefaultBaseURL,
		indycarURL: indycar.DefaultBaseURL,
		timeout:    10 * time.Second,
		now:        time.Now,
		l:          log.Default().Named("health"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

type probe struct {
	name   string
	series []model.Series
	url    string
	run    func(ctx context.Context, r *Result) error
}

func (c *Checker) probes() []probe {
	nascarURL := fmt.Sprintf("%s/cacher/%d/%d/race_list_basic.json",
		c.nascarURL, c.now().Year(), nascar.SeriesCup)
	indycarURL := c.indycarURL + "/tsconfig.json"
	return []probe{
		{
			name:   "alkamel",
			series: []model.Series{model.SeriesIMSA, model.SeriesWEC},
			url:    c.alkamelURL + "/sockjs/info",
			run:    c.probeSockJS,
		},
		{
			name:   "f1",
			series: []model.Series{model.SeriesF1},
			url:    c.f1URL + "/signalr/negotiate",
			run:    c.probeNegotiate,
		},
		{
			name:   "nascar",
			series: []model.Series{model.SeriesNASCAR},
			url:    nascarURL,
			run:    c.probeHTTP(nascarURL),
		},
		{
			name:   "indycar",
			series: []model.Series{model.SeriesIndyCar},
			url:    indycarURL,
			run:    c.probeHTTP(indycarURL),
		},
	}
}

// Check runs all probes concurrently. The result order is stable.
func (c *Checker) Check(ctx context.Context) []Result {
	probes := c.probes()
	ret := make([]Result, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i := range probes {
		g.Go(func() error {
			ret[i] = c.run(gctx, &probes[i])
			return nil
		})
	}
	//nolint:errcheck // probes report their errors in the result
	g.Wait()
	return ret
}

func (c *Checker) run(ctx context.Context, p *probe) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	r := Result{Name: p.name, Series: p.series, URL: p.url}
	start := time.Now()
	err := p.run(ctx, &r)
	r.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		r.Reachable = false
		r.Error = err.Error()
		c.l.Debug("probe failed", log.String("name", p.name), log.ErrorField(err))
	}
	return r
}

func (c *Checker) probeSockJS(ctx context.Context, r *Result) error {
	res, err := sockjs.Probe(ctx, c.client, c.alkamelURL)
	if res != nil {
		r.Status = res.Status
		r.Reachable = res.Status == http.StatusOK
		if res.Available {
			r.Detail = "websocket available"
		} else {
			r.Detail = "websocket not offered"
		}
	}
	return err
}

func (c *Checker) probeNegotiate(ctx context.Context, r *Result) error {
	s := signalr.New(signalr.WithHTTPBaseURL(c.f1URL),
		signalr.WithHTTPClient(c.client),
		signalr.WithLogger(c.l))
	resp, err := s.Negotiate(ctx)
	if err != nil {
		return err
	}
	r.Reachable = true
	r.Status = http.StatusOK
	r.Detail = "protocol " + resp.ProtocolVersion
	return nil
}

// probeHTTP treats every answer as reachable. A 404 means the service is up
// but the document is not published right now.
func (c *Checker) probeHTTP(u string) func(ctx context.Context, r *Result) error {
	return func(ctx context.Context, r *Result) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", polling.DefaultUserAgent)
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		r.Reachable = true
		r.Status = resp.StatusCode
		switch {
		case resp.StatusCode == http.StatusOK:
			r.Detail = "document available"
		case resp.StatusCode == http.StatusNotFound:
			r.Detail = "no document published"
		default:
			r.Detail = resp.Status
		}
		return nil
	}
}

// Healthy reports if every probe reached its endpoint
func Healthy(results []Result) bool {
	for i := range results {
		if !results[i].Reachable {
			return false
		}
	}
	return true
}
