//nolint:funlen,lll // ok for tests
package sockjs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind FrameKind
		wantMsgs []string
	}{
		{"open", "o", FrameOpen, nil},
		{"heartbeat", "h", FrameHeartbeat, nil},
		{"close", `c[3000,"Go away!"]`, FrameClose, nil},
		{"unknown tag", "x-whatever", FrameUnknown, nil},
		{"empty", "", FrameUnknown, nil},
		{
			"array with two messages",
			`a["{\"msg\":\"ping\"}","{\"msg\":\"connected\",\"session\":\"abc\"}"]`,
			FrameArray,
			[]string{`{"msg":"ping"}`, `{"msg":"connected","session":"abc"}`},
		},
		{
			"malformed element is skipped",
			`a["{\"msg\":\"ping\"}","{broken","{\"msg\":\"pong\"}"]`,
			FrameArray,
			[]string{`{"msg":"ping"}`, `{"msg":"pong"}`},
		},
		{
			"scalar element is skipped",
			`a["{\"msg\":\"ping\"}",42]`,
			FrameArray,
			[]string{`{"msg":"ping"}`},
		},
		{
			"decoded object element is kept",
			`a["{\"msg\":\"ping\"}",{"msg":"added","id":"7"},"{\"msg\":\"pong\"}"]`,
			FrameArray,
			[]string{`{"msg":"ping"}`, `{"msg":"added","id":"7"}`, `{"msg":"pong"}`},
		},
		{
			"element with batch",
			`a["[{\"msg\":\"ping\"},{\"msg\":\"pong\"}]"]`,
			FrameArray,
			[]string{`{"msg":"ping"}`, `{"msg":"pong"}`},
		},
		{"broken array", `a[not json`, FrameArray, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse([]byte(tt.input), nil)
			assert.Equal(t, tt.wantKind, got.Kind)
			msgs := make([]string, 0, len(got.Messages))
			for _, m := range got.Messages {
				msgs = append(msgs, string(m))
			}
			if tt.wantMsgs == nil {
				assert.Empty(t, msgs)
			} else {
				assert.Equal(t, tt.wantMsgs, msgs)
			}
		})
	}
}

func TestParseClose(t *testing.T) {
	f := Parse([]byte(`c[3000,"Go away!"]`), nil)
	assert.Equal(t, 3000, f.CloseCode)
	assert.Equal(t, "Go away!", f.CloseReason)
}

func TestParseArrayCount(t *testing.T) {
	for n := 0; n < 20; n++ {
		msgs := make([]any, n)
		for i := range msgs {
			msgs[i] = map[string]any{"msg": "added", "id": i}
		}
		frame, err := EncodeArrayFrame(msgs...)
		require.NoError(t, err)
		assert.Len(t, Parse(frame, nil).Messages, n)
	}
}

func TestTransportURL(t *testing.T) {
	re := regexp.MustCompile(`^wss://example\.com/sockjs/[1-9]\d{2}/[a-z0-9]{8}/websocket$`)
	for i := 0; i < 50; i++ {
		u := TransportURL("", "example.com")
		assert.Regexp(t, re, u)
	}
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sockjs/info" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"websocket":true,"cookie_needed":false,"origins":["*:*"],"entropy":12345}`))
	}))
	defer srv.Close()

	res, err := Probe(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, int64(12345), res.Info.Entropy)

	res, err = Probe(context.Background(), srv.Client(), srv.URL+"/nothing")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, http.StatusNotFound, res.Status)
}
