package sockjs

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/samber/lo"
)

const DefaultHost = "livetiming.alkamelsystems.com"

var sessionCharset = slices.Concat(lo.LowerCaseLettersCharset, lo.NumbersCharset)

// TransportURL builds the raw websocket url
// wss://<host>/sockjs/{server}/{session}/websocket with a random 3-digit
// server id and a random 8 char session id.
func TransportURL(scheme, host string) string {
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   host,
		Path: fmt.Sprintf("/sockjs/%d/%s/websocket",
			100+rand.IntN(900), lo.RandomString(8, sessionCharset)),
	}
	return u.String()
}

// Info is the response of the /sockjs/info endpoint
type Info struct {
	Websocket    bool     `json:"websocket"`
	CookieNeeded bool     `json:"cookie_needed"`
	Origins      []string `json:"origins"`
	Entropy      int64    `json:"entropy"`
}

type ProbeResult struct {
	Available bool
	Info      *Info
	Latency   time.Duration
	Status    int
}

// Probe checks if the SockJS service on baseURL (e.g. https://host) is reachable
// and offers the websocket transport.
//
//nolint:whitespace // editor/linter issue
func Probe(ctx context.Context, client *http.Client, baseURL string) (
	*ProbeResult, error,
) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/sockjs/info", http.NoBody)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	ret := &ProbeResult{Latency: time.Since(start), Status: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return ret, nil
	}
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ret, fmt.Errorf("decode sockjs info: %w", err)
	}
	ret.Info = &info
	ret.Available = info.Websocket
	return ret, nil
}
