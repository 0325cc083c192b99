package monitor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"io"
	"net/http"
	"time"
)

// ProbeResult is the outcome of a single probe. Body and Digest are only
// meaningful when Online is true.
type ProbeResult struct {
	Online bool
	Body   []byte
	// Digest is the fingerprint of the complete body. It may be empty, in
	// which case the engine fingerprints Body itself.
	Digest  string
	Latency time.Duration
}

// fingerprint returns the digest of the full response body.
func (r ProbeResult) fingerprint() string {
	if r.Digest != "" {
		return r.Digest
	}
	return Fingerprint(r.Body)
}

// Prober fetches a URL and reports whether it is online.
type Prober interface {
	Probe(ctx context.Context, url string) ProbeResult
}

// HTTPProber issues a GET and treats only a 200 response as online. Transport
// errors, timeouts, malformed URLs and every other status are offline.
type HTTPProber struct {
	Client *http.Client

	// MaxBodySize caps how much of the body is kept in Body. The digest always
	// covers the whole body. Zero means unlimited.
	MaxBodySize int64
}

// NewHTTPProber returns a prober with its own client so probes never share
// connections with the notifier.
func NewHTTPProber(ignoreTLS bool, maxBody int64) *HTTPProber {
	transport := &http.Transport{
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: ignoreTLS},
		DisableKeepAlives: true,
	}
	return &HTTPProber{
		Client:      &http.Client{Transport: transport},
		MaxBodySize: maxBody,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, url string) ProbeResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{}
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return ProbeResult{Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProbeResult{Latency: time.Since(start)}
	}

	h := sha256.New()
	buf := &cappedBuffer{max: p.MaxBodySize}
	if _, err := io.Copy(io.MultiWriter(h, buf), resp.Body); err != nil {
		return ProbeResult{Latency: time.Since(start)}
	}

	return ProbeResult{
		Online:  true,
		Body:    buf.Bytes(),
		Digest:  hex.EncodeToString(h.Sum(nil)),
		Latency: time.Since(start),
	}
}

// cappedBuffer keeps the first max bytes written to it and silently drops the
// rest. max <= 0 keeps everything.
type cappedBuffer struct {
	bytes.Buffer
	max int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.max > 0 {
		room := b.max - int64(b.Len())
		if room <= 0 {
			return len(p), nil
		}
		if int64(len(p)) > room {
			b.Buffer.Write(p[:room])
			return len(p), nil
		}
	}
	return b.Buffer.Write(p)
}
