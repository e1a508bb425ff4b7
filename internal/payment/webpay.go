package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/kinebook/booking-engine/internal/observability/metrics"
)

const webpayAPIPrefix = "/rswebpaytransaction/api/webpay/v1.2/transactions"

// WebpayClient talks to Transbank's Webpay Plus REST API. The sandbox
// and production environments differ only in base URL and credentials.
type WebpayClient struct {
	baseURL      string
	commerceCode string
	apiKey       string
	http         *http.Client
	metrics      *metrics.EngineMetrics
	log          *zap.Logger
}

func NewWebpayClient(baseURL, commerceCode, apiKey string, m *metrics.EngineMetrics, log *zap.Logger) *WebpayClient {
	return &WebpayClient{
		baseURL:      baseURL,
		commerceCode: commerceCode,
		apiKey:       apiKey,
		http:         &http.Client{Timeout: 15 * time.Second},
		metrics:      m,
		log:          log,
	}
}

type webpayCreateRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type webpayCreateResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type webpayCommitResponse struct {
	BuyOrder          string  `json:"buy_order"`
	SessionID         string  `json:"session_id"`
	Status            string  `json:"status"`
	ResponseCode      int     `json:"response_code"`
	Amount            float64 `json:"amount"`
	AuthorizationCode string  `json:"authorization_code"`
}

// CreateTransaction opens a new order at the gateway. Creation has no
// side effects worth protecting, so transient failures are retried with
// fibonacci backoff before giving up.
func (c *WebpayClient) CreateTransaction(ctx context.Context, buyOrder, sessionID string, amount int64, returnURL string) (*CreateResult, error) {
	payload, err := json.Marshal(webpayCreateRequest{
		BuyOrder:  buyOrder,
		SessionID: sessionID,
		Amount:    amount,
		ReturnURL: returnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create request: %w", err)
	}

	var out webpayCreateResponse

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(300*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		body, status, err := c.do(ctx, http.MethodPost, webpayAPIPrefix, payload)
		if err != nil {
			return retry.RetryableError(err)
		}
		if status >= 500 {
			return retry.RetryableError(fmt.Errorf("gateway status %d", status))
		}
		if status != http.StatusOK {
			return fmt.Errorf("gateway status %d: %s", status, truncate(body, 200))
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("decode create response: %w", err)
		}
		return nil
	})
	if err != nil {
		c.metrics.ObserveGateway("create", "error")
		return nil, fmt.Errorf("%w: create transaction: %v", ErrGateway, err)
	}
	if out.Token == "" || out.URL == "" {
		c.metrics.ObserveGateway("create", "error")
		return nil, fmt.Errorf("%w: create response missing token or url", ErrGateway)
	}

	c.metrics.ObserveGateway("create", "ok")
	return &CreateResult{Token: out.Token, URL: out.URL}, nil
}

// CommitTransaction asks the gateway for the final verdict of a token.
// Exactly one attempt: a replayed commit is rejected upstream, and the
// caller resolves replays through its own idempotency path.
func (c *WebpayClient) CommitTransaction(ctx context.Context, token string) (*CommitResult, error) {
	body, status, err := c.do(ctx, http.MethodPut, webpayAPIPrefix+"/"+token, nil)
	if err != nil {
		c.metrics.ObserveGateway("commit", "error")
		return nil, fmt.Errorf("%w: commit transaction: %v", ErrGateway, err)
	}
	if status != http.StatusOK {
		c.metrics.ObserveGateway("commit", "error")
		return nil, fmt.Errorf("%w: commit status %d: %s", ErrGateway, status, truncate(body, 200))
	}

	var out webpayCommitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		c.metrics.ObserveGateway("commit", "error")
		return nil, fmt.Errorf("%w: decode commit response: %v", ErrGateway, err)
	}

	c.metrics.ObserveGateway("commit", "ok")
	return &CommitResult{
		BuyOrder:          out.BuyOrder,
		SessionID:         out.SessionID,
		Status:            out.Status,
		ResponseCode:      out.ResponseCode,
		Amount:            int64(out.Amount),
		AuthorizationCode: out.AuthorizationCode,
		Raw:               body,
	}, nil
}

func (c *WebpayClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Tbk-Api-Key-Id", c.commerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
