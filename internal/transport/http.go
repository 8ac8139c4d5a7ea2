package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"striker/internal/codec"
	serrors "striker/internal/errors"
	"striker/util"
)

// DefaultUserAgent mimics a stock browser so agent traffic blends with
// ordinary web requests.
const DefaultUserAgent = "Mozilla/5.0 (MSIE 10.0; Windows NT 6.1; Trident/5.0)"

// maxResponse bounds how much of a control reply is read into memory.
// File transfers go through Fetch, which streams.
const maxResponse = 16 << 20

// HTTPConfig configures an [HTTPTransport].
type HTTPConfig struct {
	Base        string
	Codec       codec.Codec   // sets Content-Type on Post (default JSON)
	UserAgent   string        // default DefaultUserAgent
	Timeout     time.Duration // per request (0 = none beyond ctx)
	InsecureTLS bool          // skip certificate verification
	Logger      *util.Logger
}

// HTTPTransport implements [Transport] over net/http.  Every request
// carries "Connection: close": the agent polls slowly and keeping idle
// sockets open between callbacks only makes it easier to spot.
type HTTPTransport struct {
	client      *http.Client
	contentType string
	userAgent   string
	logger      *util.Logger

	mu   sync.RWMutex
	base string
}

// NewHTTP creates an HTTP transport from cfg.
func NewHTTP(cfg HTTPConfig) *HTTPTransport {
	c := cfg.Codec
	if c == nil {
		c = codec.JSON()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	if cfg.InsecureTLS {
		//nolint:gosec // operator opted out of certificate checks
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HTTPTransport{
		client:      &http.Client{Transport: tr, Timeout: cfg.Timeout},
		contentType: c.ContentType(),
		userAgent:   ua,
		logger:      logger,
		base:        strings.TrimRight(cfg.Base, "/"),
	}
}

// Base returns the current server base URL.
func (t *HTTPTransport) Base() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.base
}

// SetBase switches to a different server.
func (t *HTTPTransport) SetBase(url string) {
	t.mu.Lock()
	t.base = strings.TrimRight(url, "/")
	t.mu.Unlock()
}

// resolve turns a "/path" into an absolute URL under the current base.
func (t *HTTPTransport) resolve(path string) string {
	if strings.HasPrefix(path, "/") {
		return t.Base() + path
	}
	return path
}

// Get issues a GET request.
func (t *HTTPTransport) Get(ctx context.Context, path string) (*Response, error) {
	req, err := t.newRequest(ctx, http.MethodGet, t.resolve(path), nil)
	if err != nil {
		return nil, err
	}
	return t.do(req)
}

// Post sends body encoded with the configured codec's content type.
func (t *HTTPTransport) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	req, err := t.newRequest(ctx, http.MethodPost, t.resolve(path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", t.contentType)
	return t.do(req)
}

// Upload streams r as a multipart form without buffering the file.
func (t *HTTPTransport) Upload(ctx context.Context, path, field, filename string, r io.Reader) (*Response, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, field, filename, r)
		pw.CloseWithError(err) //nolint:errcheck
	}()

	req, err := t.newRequest(ctx, http.MethodPost, t.resolve(path), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := t.do(req)
	pr.Close()
	return resp, err
}

func writeMultipart(mw *multipart.Writer, field, filename string, r io.Reader) error {
	if err := mw.WriteField("filename", filename); err != nil {
		return err
	}
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// Fetch streams url into w.  Nothing is written unless the server
// answers 200.
func (t *HTTPTransport) Fetch(ctx context.Context, url string, w io.Writer) (int64, error) {
	url = t.resolve(url)
	req, err := t.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, &serrors.TransportError{Op: req.Method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponse)) //nolint:errcheck
		return 0, serrors.Status(req.Method, url, resp.StatusCode)
	}

	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	n, err := io.CopyBuffer(w, resp.Body, *bufp)
	if err != nil {
		return n, &serrors.TransportError{Op: req.Method, URL: url, Err: err}
	}
	t.logger.Debug("fetched %d bytes from %s", n, url)
	return n, nil
}

// ── internals ────────────────────────────────────────────────────────

func (t *HTTPTransport) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &serrors.TransportError{Op: method, URL: url, Err: err}
	}
	req.Close = true
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Connection", "close")
	return req, nil
}

func (t *HTTPTransport) do(req *http.Request) (*Response, error) {
	url := req.URL.String()
	t.logger.Debug("%s %s", req.Method, url)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &serrors.TransportError{Op: req.Method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, &serrors.TransportError{Op: req.Method, URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	out := &Response{StatusCode: resp.StatusCode, Body: body}
	if !out.OK() {
		return out, serrors.Status(req.Method, url, resp.StatusCode)
	}
	return out, nil
}
