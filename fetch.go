package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const defaultUA = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"

// maxResponseBytes is the maximum number of bytes to read from a remote
// image response. Responses exceeding this limit are rejected with an
// error. 0 means unlimited.
var maxResponseBytes int64 = 32 * 1024 * 1024

// fetchProxyURL is the HTTP proxy URL for remote image fetches. When
// non-empty, fetches fall back to standard TLS (no uTLS fingerprinting)
// so the request can tunnel through the proxy. Set from paste.proxy.
var fetchProxyURL string

// newProxyClient creates an HTTP client that routes through the given proxy
// address using standard TLS. The proxy itself is operator-configured and
// dialed as is; each image host is checked by guardedProxy. If proxyAddr
// is empty or unparsable, it creates a direct client that checks every
// dial.
func newProxyClient(proxyAddr string, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		DialContext: safeDialContext(dialer),
	}
	if proxyAddr != "" {
		if proxyURL, err := url.Parse(proxyAddr); err == nil {
			transport.DialContext = dialer.DialContext
			transport.Proxy = guardedProxy(proxyURL)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// readLimited reads up to limit bytes from r. If the body exceeds the
// limit, it returns an error. A limit of 0 reads without bound.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// Read limit+1 bytes so we can detect overflow without a custom reader.
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds maximum allowed size (%s)", humanSize(limit))
	}
	return data, nil
}

// utlsConn wraps a utls.UConn and satisfies net.Conn + the
// ConnectionState interface that net/http2 needs.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	cs := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                    cs.Version,
		HandshakeComplete:          cs.HandshakeComplete,
		CipherSuite:                cs.CipherSuite,
		NegotiatedProtocol:         cs.NegotiatedProtocol,
		NegotiatedProtocolIsMutual: cs.NegotiatedProtocolIsMutual,
		ServerName:                 cs.ServerName,
		PeerCertificates:           cs.PeerCertificates,
		VerifiedChains:             cs.VerifiedChains,
		OCSPResponse:               cs.OCSPResponse,
		TLSUnique:                  cs.TLSUnique,
	}
}

// newBrowserClient creates an HTTP client that mimics a real browser's
// TLS fingerprint using utls. Image hosts that refuse obvious bots still
// serve the pasted images this way.
func newBrowserClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout}
	rt := &browserTransport{
		dialer: dialer,
		h1: &http.Transport{
			DialContext: safeDialContext(dialer),
		},
		h2: &http2.Transport{},
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: rt,
	}
}

type browserTransport struct {
	dialer *net.Dialer
	h1     *http.Transport
	h2     *http2.Transport
}

func (bt *browserTransport) dialUTLS(ctx context.Context, network, addr string) (net.Conn, string, error) {
	conn, err := safeDialContext(bt.dialer)(ctx, network, addr)
	if err != nil {
		return nil, "", err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
	}, utls.HelloFirefox_120)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", err
	}

	alpn := tlsConn.ConnectionState().NegotiatedProtocol
	return &utlsConn{tlsConn}, alpn, nil
}

func (bt *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return bt.h1.RoundTrip(req)
	}

	addr := req.URL.Host
	if !hasPort(addr) {
		addr = addr + ":443"
	}

	conn, alpn, err := bt.dialUTLS(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	if alpn == "h2" {
		h2conn, err := bt.h2.NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2conn.RoundTrip(req)
	}

	// For HTTP/1.1, inject the TLS conn into a one-shot transport
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return conn, nil
		},
	}
	return transport.RoundTrip(req)
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}

var (
	imageClient     *http.Client
	imageClientOnce sync.Once

	proxyMu        sync.Mutex
	proxyClient    *http.Client
	proxyClientURL string // fetchProxyURL that proxyClient was built for
)

// getImageClient returns the HTTP client for fetching remote images.
// When a proxy is configured, uses a standard-TLS proxy-aware client,
// built once per proxy URL so pooled connections are reused.
func getImageClient() *http.Client {
	if fetchProxyURL != "" {
		proxyMu.Lock()
		defer proxyMu.Unlock()
		if proxyClient == nil || proxyClientURL != fetchProxyURL {
			if proxyClient != nil {
				proxyClient.CloseIdleConnections()
			}
			proxyClient = newProxyClient(fetchProxyURL, 30*time.Second)
			proxyClientURL = fetchProxyURL
		}
		return proxyClient
	}
	imageClientOnce.Do(func() {
		imageClient = newBrowserClient(30 * time.Second)
	})
	return imageClient
}

// fetchRemoteImage downloads a pasted remote image so it can be re-uploaded
// to owned storage. The file keeps the URL's base name when it has one.
func fetchRemoteImage(ctx context.Context, imgURL string) (*file, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imgURL, nil)
	if err != nil {
		return nil, &networkError{Op: "fetch", URL: imgURL, Err: err}
	}
	req.Header.Set("User-Agent", defaultUA)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/*;q=0.8,*/*;q=0.5")

	resp, err := getImageClient().Do(req)
	if err != nil {
		return nil, &networkError{Op: "fetch", URL: imgURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &networkError{Op: "fetch", URL: imgURL, StatusCode: resp.StatusCode}
	}

	data, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, &networkError{Op: "fetch", URL: imgURL, StatusCode: resp.StatusCode, Err: err}
	}

	// Detect MIME from Content-Type header or sniff
	mimeType := baseMediaType(resp.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = sniffType(data)
	}

	name := ""
	if u, err := url.Parse(imgURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	return &file{Name: name, Type: mimeType, Data: data}, nil
}
