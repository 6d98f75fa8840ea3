// Package smarttyre is a signed-request client for the SmartTyre open API.
// Every request carries clientId/timestamp/nonce headers plus an MD5 "sign"
// header; most endpoints additionally require an accessToken obtained through
// a client-credentials grant.
package smarttyre

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const requestTimeout = 20 * time.Second

// TireInfo is the per-vehicle enrichment payload consumed by the ingest
// pipeline.
type TireInfo struct {
	LatestDataTime string  `json:"latestDataTime"`
	LoadData       float64 `json:"loadData"`
	OrgID          string  `json:"orgId"`
	TotalMileage   float64 `json:"totalMileage"`
	TractorName    string  `json:"tractorName"`
}

// Client talks to the SmartTyre API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	signKey      string
	httpc        *http.Client

	mu    sync.Mutex
	token string
}

// New creates a Client. Requests time out after 20 seconds.
func New(baseURL, clientID, clientSecret, signKey string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		signKey:      signKey,
		httpc:        &http.Client{Timeout: requestTimeout},
	}
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

func newNonce() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

func (c *Client) newHeaders(ctx context.Context, needToken bool) (map[string]string, error) {
	headers := map[string]string{
		"clientId":  c.clientID,
		"timestamp": strconv.FormatInt(time.Now().UnixMilli(), 10),
		"nonce":     newNonce(),
	}
	if needToken {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		headers["accessToken"] = token
	}
	return headers, nil
}

// accessToken returns the cached token, acquiring one lazily on first use.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
		"grantType":    "client_credentials",
	})
	if err != nil {
		return "", err
	}

	env, err := c.post(ctx, "/smartyre/openapi/auth/oauth20/authorize", string(body), false)
	if err != nil {
		return "", fmt.Errorf("smarttyre authorize: %w", err)
	}
	var grant struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(env.Data, &grant); err != nil {
		return "", fmt.Errorf("smarttyre authorize decode: %w", err)
	}
	if grant.AccessToken == "" {
		return "", fmt.Errorf("smarttyre authorize: empty access token")
	}
	c.token = grant.AccessToken
	return c.token, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string][]string) (*envelope, error) {
	headers, err := c.newHeaders(ctx, true)
	if err != nil {
		return nil, err
	}
	headers["sign"] = Sign(headers, "", params, nil, c.signKey)

	q := url.Values(params)
	reqURL := c.baseURL + endpoint
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, headers)
}

func (c *Client) post(ctx context.Context, endpoint, body string, needToken bool) (*envelope, error) {
	headers, err := c.newHeaders(ctx, needToken)
	if err != nil {
		return nil, err
	}
	headers["sign"] = Sign(headers, body, nil, nil, c.signKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return c.send(req, headers)
}

func (c *Client) send(req *http.Request, headers map[string]string) (*envelope, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("smarttyre %s: status %d", req.URL.Path, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("smarttyre %s: decode: %w", req.URL.Path, err)
	}
	return &env, nil
}

// TiresInfoByVehicle returns the enrichment payload for a vehicle, or nil
// when the API has no data for it.
func (c *Client) TiresInfoByVehicle(ctx context.Context, vehicleID string) (*TireInfo, error) {
	if vehicleID == "" {
		return nil, nil
	}
	body, err := json.Marshal(map[string]string{"vehicleId": vehicleID})
	if err != nil {
		return nil, err
	}
	env, err := c.post(ctx, "/smartyre/openapi/vehicle/tyre/data", string(body), true)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, nil
	}
	var info TireInfo
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("smarttyre tyre data decode: %w", err)
	}
	return &info, nil
}

// VehicleList returns the raw vehicle catalog known to SmartTyre.
func (c *Client) VehicleList(ctx context.Context) (json.RawMessage, error) {
	env, err := c.get(ctx, "/smartyre/openapi/vehicle/list", nil)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// VehicleInfo returns the raw detail record for one vehicle.
func (c *Client) VehicleInfo(ctx context.Context, vehicleID string) (json.RawMessage, error) {
	if vehicleID == "" {
		return nil, nil
	}
	env, err := c.get(ctx, "/smartyre/openapi/vehicle/detail", map[string][]string{"vehicleId": {vehicleID}})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// TyreInfo returns the raw detail record for one tire.
func (c *Client) TyreInfo(ctx context.Context, tireID string) (json.RawMessage, error) {
	env, err := c.get(ctx, "/smartyre/openapi/tyre/detail", map[string][]string{"id": {tireID}})
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// BindTire attaches a tire to a vehicle position.
func (c *Client) BindTire(ctx context.Context, vehicleID, tyreCode string, axleIndex, wheelIndex int) (string, error) {
	body, err := json.Marshal(map[string]any{
		"vehicleId":  vehicleID,
		"tyreCode":   tyreCode,
		"axleIndex":  axleIndex,
		"wheelIndex": wheelIndex,
	})
	if err != nil {
		return "", err
	}
	env, err := c.post(ctx, "/smartyre/openapi/vehicle/tyre/bind", string(body), true)
	if err != nil {
		return "", err
	}
	return env.Msg, nil
}

// UnbindTire detaches a tire from a vehicle.
func (c *Client) UnbindTire(ctx context.Context, vehicleID, tyreCode string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"vehicleId": vehicleID,
		"tyreCode":  tyreCode,
	})
	if err != nil {
		return "", err
	}
	env, err := c.post(ctx, "/smartyre/openapi/vehicle/tyre/unbind", string(body), true)
	if err != nil {
		return "", err
	}
	return env.Msg, nil
}
