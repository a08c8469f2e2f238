package icp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"icplookup/internal/captcha"
	"icplookup/internal/imaging"
	"icplookup/internal/logging"
)

// The target only answers requests that look like its own web frontend.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/101.0.4951.41 Safari/537.36 Edg/101.0.1210.32"

const (
	pathAuth      = "/auth"
	pathChallenge = "/image/getCheckImagePoint"
	pathVerify    = "/image/checkImage"
	pathQuery     = "/icpAbbreviateInfo/queryByCondition"
	pathDetail    = "/icpAbbreviateInfo/queryDetailByAppAndMiniId"
)

// Pre-shared auth handshake inputs. The key is md5 of this secret
// concatenated with the millisecond timestamp; md5 here is the target's
// handshake convention, not an integrity mechanism.
const authSecret = "testtest"

const defaultTokenTTL = 600 * time.Second

// ChallengeSolver produces the four click points for one challenge.
// *captcha.Solver is the production implementation.
type ChallengeSolver interface {
	Solve(ctx context.Context, background, small *image.RGBA) (captcha.SlotAssignment, error)
}

// Config carries the client's network settings. Endpoints are
// overridable so tests can point the client at a local server.
type Config struct {
	APIBase  string        // base URL up to and including /api
	Origin   string        // Origin header value
	Referer  string        // Referer header value
	Timeout  time.Duration // per-request timeout
	Attempts int           // full challenge-and-query attempts per lookup
}

// DefaultConfig returns the production endpoints and retry budget.
func DefaultConfig() Config {
	return Config{
		APIBase:  "https://hlwicpfwc.miit.gov.cn/icpproject_query/api",
		Origin:   "https://beian.miit.gov.cn",
		Referer:  "https://beian.miit.gov.cn/",
		Timeout:  30 * time.Second,
		Attempts: 3,
	}
}

// Client performs registry lookups. It caches the auth token across
// calls and re-solves a fresh challenge for every query attempt. Safe
// for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	solver     ChallengeSolver

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group

	// Injection points for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient builds a client over the given solver. Zero-value config
// fields fall back to the defaults.
func NewClient(cfg Config, solver ChallengeSolver) *Client {
	def := DefaultConfig()
	if cfg.APIBase == "" {
		cfg.APIBase = def.APIBase
	}
	if cfg.Origin == "" {
		cfg.Origin = def.Origin
	}
	if cfg.Referer == "" {
		cfg.Referer = def.Referer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		solver:     solver,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Query looks up one page of registry records. Each attempt runs the
// whole protocol from a fresh challenge; a used challenge is never
// resubmitted. Client-side HTTP errors abort immediately, everything
// else retries up to the attempt budget with the last error surfaced.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.PageNum <= 0 {
		req.PageNum = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if attempt > 1 {
			c.sleep(retryDelay(lastErr))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := c.queryOnce(ctx, req)
		if err == nil {
			logging.Protocol("query %q (%s) succeeded on attempt %d: %d of %d records",
				req.UnitName, req.ServiceType, attempt, len(result.List), result.Total)
			return result, nil
		}
		lastErr = err
		logging.ProtocolError("query %q attempt %d/%d failed: %v", req.UnitName, attempt, c.cfg.Attempts, err)
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("icp: query failed after %d attempts: %w", c.cfg.Attempts, lastErr)
}

// queryOnce runs one full protocol pass: token, challenge, solve,
// verify, query.
func (c *Client) queryOnce(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := c.FetchChallenge(ctx)
	if err != nil {
		return nil, err
	}

	assignment, err := c.solver.Solve(ctx, ch.Background, ch.Small)
	if err != nil {
		return nil, err
	}

	payload, err := captcha.EncryptPoints(assignment, ch.SecretKey)
	if err != nil {
		return nil, err
	}

	sign, err := c.verify(ctx, token, ch, payload)
	if err != nil {
		return nil, err
	}

	return c.runQuery(ctx, token, sign, ch.UUID, req)
}

// authToken returns the cached token or refreshes it. Concurrent
// callers share a single refresh.
func (c *Client) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.refresh.Do("token", func() (interface{}, error) {
		// A caller that queued behind the winning refresh can use its
		// result directly.
		c.mu.Lock()
		if c.token != "" && c.now().Before(c.tokenExpiry) {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	ts := c.now().UnixMilli()
	sum := md5.Sum([]byte(authSecret + strconv.FormatInt(ts, 10)))
	form := url.Values{
		"authKey":   {hex.EncodeToString(sum[:])},
		"timeStamp": {strconv.FormatInt(ts, 10)},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+pathAuth, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	c.decorate(httpReq)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	env, err := c.do(httpReq)
	if err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}
	if !env.Success {
		return "", fmt.Errorf("%w: %s", ErrAuthRejected, env.Msg)
	}

	var params authParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return "", fmt.Errorf("%w: decode params: %v", ErrAuthRejected, err)
	}
	if params.Bussiness == "" {
		return "", fmt.Errorf("%w: empty token in response", ErrAuthRejected)
	}

	ttl := defaultTokenTTL
	if params.Expire > 0 {
		ttl = time.Duration(params.Expire) * time.Millisecond
	}

	c.mu.Lock()
	c.token = params.Bussiness
	c.tokenExpiry = c.now().Add(ttl)
	c.mu.Unlock()

	logging.ProtocolDebug("auth token refreshed, valid for %s", ttl)
	return params.Bussiness, nil
}

// FetchChallenge requests a fresh captcha challenge and decodes both
// images. A missing image, uuid or secret key is ErrMalformedChallenge.
func (c *Client) FetchChallenge(ctx context.Context) (*Challenge, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	clientUID := newClientUID()
	env, err := c.postJSON(ctx, pathChallenge, map[string]string{"clientUid": clientUID}, map[string]string{"Token": token})
	if err != nil {
		return nil, fmt.Errorf("fetch challenge: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: server refused: %s", ErrMalformedChallenge, env.Msg)
	}

	var params challengeParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return nil, fmt.Errorf("%w: decode params: %v", ErrMalformedChallenge, err)
	}
	if params.BigImage == "" || params.SmallImage == "" || params.UUID == "" || params.SecretKey == "" {
		return nil, fmt.Errorf("%w: missing field in params", ErrMalformedChallenge)
	}

	background, err := imaging.DecodeBase64(params.BigImage)
	if err != nil {
		return nil, fmt.Errorf("%w: background image: %v", ErrMalformedChallenge, err)
	}
	small, err := imaging.DecodeBase64(params.SmallImage)
	if err != nil {
		return nil, fmt.Errorf("%w: small image: %v", ErrMalformedChallenge, err)
	}

	logging.ProtocolDebug("fetched challenge %s, background %v, small %v",
		params.UUID, background.Bounds().Size(), small.Bounds().Size())
	return &Challenge{
		Background: background,
		Small:      small,
		UUID:       params.UUID,
		SecretKey:  params.SecretKey,
		ClientUID:  clientUID,
	}, nil
}

// verify submits the encrypted solution and returns the sign for the
// follow-up query. An empty sign with success=true is still a pass; the
// server just did not rotate credentials.
func (c *Client) verify(ctx context.Context, token string, ch *Challenge, payload string) (string, error) {
	body := map[string]string{
		"token":     ch.UUID,
		"secretKey": ch.SecretKey,
		"clientUid": ch.ClientUID,
		"pointJson": payload,
	}
	env, err := c.postJSON(ctx, pathVerify, body, map[string]string{"Token": token})
	if err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}
	if !env.Success {
		return "", fmt.Errorf("%w: %s", ErrVerificationRejected, env.Msg)
	}

	sign := extractSign(env.Params)
	if sign == "" {
		logging.ProtocolDebug("verification passed without a new sign")
	}
	return sign, nil
}

// extractSign handles the verify endpoint's two params shapes: a bare
// string, or an object carrying a "sign" key. Anything else is an empty
// sign.
func extractSign(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Sign string `json:"sign"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Sign
	}
	return ""
}

// queryPayload sends page numbers as strings. The frontend does the
// same and the server expects it.
type queryPayload struct {
	PageNum     string `json:"pageNum"`
	PageSize    string `json:"pageSize"`
	UnitName    string `json:"unitName"`
	ServiceType int    `json:"serviceType"`
}

func (c *Client) runQuery(ctx context.Context, token, sign, challengeUUID string, req QueryRequest) (*QueryResult, error) {
	body := queryPayload{
		PageNum:     strconv.Itoa(req.PageNum),
		PageSize:    strconv.Itoa(req.PageSize),
		UnitName:    req.UnitName,
		ServiceType: int(req.ServiceType),
	}
	headers := map[string]string{
		"Token": token,
		"Sign":  sign,
		"Uuid":  challengeUUID,
	}
	env, err := c.postJSON(ctx, pathQuery, body, headers)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrQueryRejected, env.Msg)
	}

	var result QueryResult
	if err := json.Unmarshal(env.Params, &result); err != nil {
		return nil, fmt.Errorf("%w: decode params: %v", ErrQueryRejected, err)
	}
	return &result, nil
}

// Detail fetches the extended record for an app-family entry. The
// endpoint takes the cached token and an empty Sign header; no captcha
// round is needed.
func (c *Client) Detail(ctx context.Context, dataID int64, serviceType ServiceType) (*Record, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]interface{}{
		"dataId":      dataID,
		"serviceType": int(serviceType),
	}
	headers := map[string]string{
		"Token": token,
		"Sign":  "",
	}
	env, err := c.postJSON(ctx, pathDetail, body, headers)
	if err != nil {
		return nil, fmt.Errorf("detail: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrQueryRejected, env.Msg)
	}

	var record Record
	if err := json.Unmarshal(env.Params, &record); err != nil {
		return nil, fmt.Errorf("%w: decode params: %v", ErrQueryRejected, err)
	}
	return &record, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}, headers map[string]string) (*envelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*envelope, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}

// decorate applies the browser-mimicking headers every endpoint wants,
// including a fresh __jsluid_s cookie per request.
func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Origin", c.cfg.Origin)
	req.Header.Set("Referer", c.cfg.Referer)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	u := uuid.New()
	req.Header.Set("Cookie", "__jsluid_s="+hex.EncodeToString(u[:]))
}

const hexDigits = "0123456789abcdef"

// newClientUID generates the "point-" identifier the challenge endpoint
// expects: 36 random hex digits with dashes at 8/13/18/23, a '4' at 14,
// and position 19 masked to the 8..b range.
func newClientUID() string {
	id := make([]byte, 36)
	for i := range id {
		id[i] = hexDigits[rand.Intn(len(hexDigits))]
	}
	id[14] = '4'
	v := strings.IndexByte(hexDigits, id[19])
	id[19] = hexDigits[(3&v)|8]
	id[8], id[13], id[18], id[23] = '-', '-', '-', '-'
	return "point-" + string(id)
}
