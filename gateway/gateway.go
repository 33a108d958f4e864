// Package gateway is the single choke point for backend I/O.
//
// It owns two channels: a public one for calls that need no credential (login,
// register, refresh, validate) and a private one that attaches the stored
// session credential to every request. A 401 on the private channel triggers
// at most one credential refresh at a time, after which the failed request is
// sent again once.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/theDeemoonn/foodMobile/credentials"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Scheme selects how the private channel carries the credential.
type Scheme string

const (
	// SchemeSessionID sends the stored session id as X-Session-ID.
	SchemeSessionID Scheme = "session"
	// SchemeBearer sends the stored access token as Authorization: Bearer.
	SchemeBearer Scheme = "bearer"
)

const (
	HeaderSessionID = "X-Session-ID"
	HeaderRequestID = "X-Request-ID"

	maxResponseBody = 8 << 20
)

// ParseScheme maps a config value to a Scheme, defaulting to SchemeSessionID.
func ParseScheme(s string) Scheme {
	if strings.EqualFold(s, string(SchemeBearer)) {
		return SchemeBearer
	}
	return SchemeSessionID
}

// Refresher mints a new credential and writes it to the credential store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Gateway is safe for concurrent use.
type Gateway struct {
	publicBase  string
	privateBase string
	client      *http.Client
	store       credentials.Store
	scheme      Scheme
	logger      zerolog.Logger
	metrics     *metrics
	registerer  prometheus.Registerer

	refresherLock sync.RWMutex
	refresher     Refresher

	refreshGroup singleflight.Group
	refreshLock  sync.Mutex
	// refreshEpoch counts successful refreshes.
	refreshEpoch atomic.Uint64
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

func WithScheme(s Scheme) Option {
	return func(g *Gateway) {
		g.scheme = s
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithRegisterer registers the gateway metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) {
		g.registerer = reg
	}
}

func WithRefresher(r Refresher) Option {
	return func(g *Gateway) {
		g.refresher = r
	}
}

// New builds a gateway for the given base URLs. store is read before every
// private request.
func New(publicBaseURL, privateBaseURL string, store credentials.Store, options ...Option) (*Gateway, error) {
	if publicBaseURL == "" || privateBaseURL == "" {
		return nil, errors.New("[gateway.New] public and private base URLs are required")
	}
	if store == nil {
		return nil, errors.New("[gateway.New] credential store is required")
	}
	g := &Gateway{
		publicBase:  strings.TrimRight(publicBaseURL, "/"),
		privateBase: strings.TrimRight(privateBaseURL, "/"),
		client:      &http.Client{Timeout: 15 * time.Second},
		store:       store,
		scheme:      SchemeSessionID,
		logger:      log.Logger,
	}
	for _, opt := range options {
		opt(g)
	}
	g.metrics = newMetrics(g.registerer)
	return g, nil
}

// SetRefresher installs the component that refreshes credentials after a 401.
// The session manager depends on the gateway, so it is wired after construction.
func (g *Gateway) SetRefresher(r Refresher) {
	g.refresherLock.Lock()
	defer g.refresherLock.Unlock()
	g.refresher = r
}

func (g *Gateway) Scheme() Scheme {
	return g.scheme
}

// Response is a successful backend response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("[gateway.Response.Decode] %w", err)
	}
	return nil
}

type request struct {
	method  string
	path    string
	public  bool
	headers http.Header
	retried bool
}

// RequestOption adjusts a single request.
type RequestOption func(*request)

// Public sends the request on the public channel without a credential.
func Public() RequestOption {
	return func(r *request) {
		r.public = true
	}
}

// PublicIf is Public when public is true.
func PublicIf(public bool) RequestOption {
	return func(r *request) {
		r.public = public
	}
}

func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		r.headers.Set(key, value)
	}
}

func (g *Gateway) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodGet, path, nil, opts...)
}

func (g *Gateway) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodPost, path, body, opts...)
}

func (g *Gateway) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodPut, path, body, opts...)
}

func (g *Gateway) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return g.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do sends one request. Private requests answered with 401 are retried once
// after a refresh; if the refresh fails the stored credentials are removed and
// the 401 is returned wrapped in a KindSessionExpired error.
func (g *Gateway) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	req := &request{method: method, path: path, headers: http.Header{}}
	for _, opt := range opts {
		opt(req)
	}
	op := fmt.Sprintf("%s %s", method, path)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, apperrors.E(apperrors.KindUnknown, op, fmt.Errorf("marshal body: %w", err))
		}
	}

	if req.public {
		return g.send(ctx, req, payload, credential{})
	}

	epoch := g.refreshEpoch.Load()
	cred, err := g.credential(ctx)
	if err != nil {
		return nil, apperrors.E(apperrors.KindPersistence, op, err)
	}
	resp, err := g.send(ctx, req, payload, cred)
	if err == nil || !IsUnauthorized(err) || req.retried {
		return resp, err
	}

	req.retried = true
	if refreshErr := g.refresh(ctx, cred, epoch); refreshErr != nil {
		g.logger.Warn().Err(refreshErr).Str("path", path).Msg("credential refresh failed, clearing session")
		if clearErr := credentials.Clear(context.WithoutCancel(ctx), g.store); clearErr != nil {
			g.logger.Err(clearErr).Msg("failed to clear credentials after refresh failure")
		}
		return nil, apperrors.E(apperrors.KindSessionExpired, op, err)
	}

	if cred, err = g.credential(ctx); err != nil {
		return nil, apperrors.E(apperrors.KindPersistence, op, err)
	}
	return g.send(ctx, req, payload, cred)
}

// refresh runs the Refresher for requests that failed with used after being
// sent in refresh epoch epoch. Requests from the same epoch share one refresh.
// A request sent before a refresh that has since finished retries without
// refreshing again, even when the refresh left the credential value as it was.
func (g *Gateway) refresh(ctx context.Context, used credential, epoch uint64) error {
	g.refresherLock.RLock()
	refresher := g.refresher
	g.refresherLock.RUnlock()
	if refresher == nil {
		g.metrics.refreshes.WithLabelValues("unavailable").Inc()
		return errors.New("no refresher configured")
	}

	flightCtx := context.WithoutCancel(ctx)
	_, err, shared := g.refreshGroup.Do("refresh:"+strconv.FormatUint(epoch, 10), func() (any, error) {
		g.refreshLock.Lock()
		defer g.refreshLock.Unlock()

		if g.refreshEpoch.Load() != epoch {
			g.metrics.refreshes.WithLabelValues("skipped").Inc()
			return nil, nil
		}
		// A sign-in since the request was sent also replaces the credential.
		current, err := g.credential(flightCtx)
		if err != nil {
			return nil, err
		}
		if current.value != "" && current.value != used.value {
			g.metrics.refreshes.WithLabelValues("skipped").Inc()
			return nil, nil
		}
		if err := refresher.Refresh(flightCtx); err != nil {
			g.metrics.refreshes.WithLabelValues("failure").Inc()
			return nil, err
		}
		g.refreshEpoch.Add(1)
		g.metrics.refreshes.WithLabelValues("success").Inc()
		return nil, nil
	})
	if shared {
		g.logger.Debug().Msg("joined in-flight credential refresh")
	}
	return err
}

// credential is the value attached to private requests.
type credential struct {
	scheme Scheme
	value  string
}

func (c credential) apply(r *http.Request) {
	if c.value == "" {
		return
	}
	switch c.scheme {
	case SchemeBearer:
		(&oauth2.Token{AccessToken: c.value, TokenType: "Bearer"}).SetAuthHeader(r)
	default:
		r.Header.Set(HeaderSessionID, c.value)
	}
}

func (g *Gateway) credential(ctx context.Context) (credential, error) {
	key := credentials.SessionID
	if g.scheme == SchemeBearer {
		key = credentials.AccessToken
	}
	value, _, err := g.store.Get(ctx, key)
	if err != nil {
		return credential{}, fmt.Errorf("read %s: %w", key, err)
	}
	return credential{scheme: g.scheme, value: value}, nil
}

func (g *Gateway) send(ctx context.Context, req *request, payload []byte, cred credential) (*Response, error) {
	channel, base := "private", g.privateBase
	if req.public {
		channel, base = "public", g.publicBase
	}
	op := fmt.Sprintf("%s %s", req.method, req.path)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, base+req.path, body)
	if err != nil {
		return nil, apperrors.E(apperrors.KindUnknown, op, err)
	}
	for k, v := range req.headers {
		httpReq.Header[k] = v
	}
	requestID := uuid.New().String()
	httpReq.Header.Set(HeaderRequestID, requestID)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if !req.public {
		if cred.value == "" {
			g.logger.Debug().Str("request_id", requestID).Msg("no credential stored, sending private request without it")
		}
		cred.apply(httpReq)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	elapsed := time.Since(start)
	g.metrics.duration.WithLabelValues(channel).Observe(elapsed.Seconds())
	if err != nil {
		g.metrics.requests.WithLabelValues(channel, req.method, "error").Inc()
		g.logger.Debug().Err(err).Str("request_id", requestID).Str("path", req.path).Msg("request failed")
		return nil, apperrors.E(apperrors.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		g.metrics.requests.WithLabelValues(channel, req.method, "error").Inc()
		return nil, apperrors.E(apperrors.KindNetwork, op, fmt.Errorf("read body: %w", err))
	}
	g.metrics.requests.WithLabelValues(channel, req.method, strconv.Itoa(resp.StatusCode)).Inc()
	g.logger.Debug().
		Str("request_id", requestID).
		Str("channel", channel).
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Bool("retry", req.retried).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := apperrors.KindHTTP
		if resp.StatusCode == http.StatusUnauthorized {
			kind = apperrors.KindAuthorization
		}
		return nil, apperrors.E(kind, op, &HTTPError{
			Method:     req.method,
			Path:       req.path,
			StatusCode: resp.StatusCode,
			Body:       data,
		})
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
