package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"collateral-backend/internal/models"

	"github.com/shopspring/decimal"
)

// RiskOracleClient client for the risk assessment oracle service
type RiskOracleClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRiskOracleClient creates a new risk oracle client
func NewRiskOracleClient(baseURL string, timeout time.Duration) *RiskOracleClient {
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RiskOracleClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// AssessmentRequest asks the oracle for a minting ratio. The answer arrives later
// on the callback URL or the oracle response queue, keyed by RequestID.
type AssessmentRequest struct {
	RequestID    uint64        `json:"request_id"`
	BasketDigest string        `json:"basket_digest"`
	ValueHintUSD string        `json:"value_hint_usd"`
	Engine       models.Engine `json:"engine"`
	CallbackURL  string        `json:"callback_url,omitempty"`
}

// FeeQuote response of the fee endpoint
type FeeQuote struct {
	Success bool `json:"success"`
	Data    struct {
		Fee    string `json:"fee"`
		Engine string `json:"engine"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

type assessmentAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// QuoteFee returns the oracle's current fee for engine
func (c *RiskOracleClient) QuoteFee(ctx context.Context, engine models.Engine) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v1/fees?engine=%s", c.baseURL, url.QueryEscape(string(engine)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return decimal.Zero, err
	}

	var quote FeeQuote
	if err := json.Unmarshal(body, &quote); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse response: %w", err)
	}
	if !quote.Success {
		return decimal.Zero, fmt.Errorf("oracle returned error: %s", quote.Error)
	}
	fee, err := decimal.NewFromString(quote.Data.Fee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid fee %q: %w", quote.Data.Fee, err)
	}
	if fee.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative fee %s", fee)
	}
	return fee, nil
}

// Dispatch submits an assessment. It returns once the oracle has accepted the job.
func (c *RiskOracleClient) Dispatch(ctx context.Context, assessment *AssessmentRequest) error {
	jsonBody, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/assessments", bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}

	var ack assessmentAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("oracle rejected assessment %d: %s", assessment.RequestID, ack.Error)
	}
	return nil
}

func (c *RiskOracleClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
