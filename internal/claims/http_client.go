package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rewardclaims/internal/wallet"
)

const maxResponseBytes = 1 << 20

// HTTPClient talks to the rewards backend REST API. Claims are submitted at
// most once per call; there is no retry here.
type HTTPClient struct {
	baseURL string
	chain   wallet.Chain
	http    *http.Client
}

type HTTPClientConfig struct {
	BaseURL string
	Chain   wallet.Chain
	Timeout time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("claims api base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse claims api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("claims api url must be http(s), got %q", cfg.BaseURL)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	chain := cfg.Chain
	if chain == "" {
		chain = wallet.ChainSolana
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		chain:   chain,
		http:    hc,
	}, nil
}

type initiateClaimBody struct {
	WalletAddress string `json:"walletAddress"`
}

type initiateClaimResult struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (r initiateClaimResult) reason() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

func (c *HTTPClient) SubmitClaim(ctx context.Context, req SubmitClaimRequest) (SubmitClaimResponse, error) {
	if err := validateSubmitRequest(req); err != nil {
		return SubmitClaimResponse{}, err
	}
	addr, err := wallet.ParseAddress(c.chain, req.WalletAddress)
	if err != nil {
		return SubmitClaimResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	payload, err := json.Marshal(initiateClaimBody{WalletAddress: addr.String()})
	if err != nil {
		return SubmitClaimResponse{}, fmt.Errorf("encode claim: %w", err)
	}

	endpoint := c.baseURL + "/rewards/claims/" + url.PathEscape(req.ClaimID) + "/initiate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return SubmitClaimResponse{}, fmt.Errorf("build claim request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return SubmitClaimResponse{}, fmt.Errorf("initiate claim: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return SubmitClaimResponse{}, fmt.Errorf("read claim response: %w", err)
	}

	var result initiateClaimResult
	decodeErr := json.Unmarshal(raw, &result)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return SubmitClaimResponse{}, fmt.Errorf("claims backend returned %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		if decodeErr != nil || result.reason() == "" {
			return SubmitClaimResponse{}, fmt.Errorf("claims backend returned %d", resp.StatusCode)
		}
		return SubmitClaimResponse{Success: false, Reason: result.reason()}, nil
	}

	if decodeErr != nil {
		return SubmitClaimResponse{}, fmt.Errorf("decode claim response: %w", decodeErr)
	}
	if result.Success != nil && *result.Success {
		return SubmitClaimResponse{Success: true}, nil
	}
	return SubmitClaimResponse{Success: false, Reason: result.reason()}, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("claims backend unhealthy: %d", resp.StatusCode)
	}
	return nil
}
