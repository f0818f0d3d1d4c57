// Package irisclient provides a client for Circle's attestation service (Iris).
package irisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/speedrun-hq/speedrun-settler/pkg/logger"
	"github.com/speedrun-hq/speedrun-settler/pkg/metrics"
)

const statusComplete = "complete"

var (
	// ErrNotFound is returned when Iris has not indexed the burn transaction yet
	ErrNotFound = errors.New("attestation not found")
	// ErrAttestationPending is returned while the burn awaits finality or signatures
	ErrAttestationPending = errors.New("attestation pending")
)

// Message is one CCTP message as reported by the messages endpoint
type Message struct {
	Message     string `json:"message"`
	EventNonce  string `json:"eventNonce"`
	Attestation string `json:"attestation"`
	CCTPVersion int    `json:"cctpVersion"`
	Status      string `json:"status"`
}

// messagesResponse is the body of GET /v2/messages/{sourceDomain}
type messagesResponse struct {
	Messages []Message `json:"messages"`
}

// Attested is a message with a complete attestation, ready for receiveMessage
type Attested struct {
	Message     []byte
	Attestation []byte
}

// Client represents an Iris API client
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new Iris API client
func New(endpoint string, logger logger.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

// FetchMessages gets the messages emitted by the burn transaction txHash on sourceDomain
func (c *Client) FetchMessages(ctx context.Context, sourceDomain uint32, txHash common.Hash) ([]Message, error) {
	url := fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s", c.endpoint, sourceDomain, txHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s on domain %d", ErrNotFound, txHash.Hex(), sourceDomain)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp messagesResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %v, body: %s", err, string(bodyBytes))
	}
	return apiResp.Messages, nil
}

// FetchAttestation returns the first V2 message of txHash once its attestation is complete
func (c *Client) FetchAttestation(ctx context.Context, sourceDomain uint32, txHash common.Hash) (*Attested, error) {
	domainLabel := strconv.FormatUint(uint64(sourceDomain), 10)

	messages, err := c.FetchMessages(ctx, sourceDomain, txHash)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrNotFound) {
			result = "not_found"
		}
		metrics.AttestationPolls.WithLabelValues(domainLabel, result).Inc()
		return nil, err
	}

	for _, m := range messages {
		if m.CCTPVersion != 0 && m.CCTPVersion != 2 {
			continue
		}
		if m.Status != statusComplete {
			metrics.AttestationPolls.WithLabelValues(domainLabel, "pending").Inc()
			c.logger.DebugWithDomain(sourceDomain, "Attestation for %s is %s", txHash.Hex(), m.Status)
			return nil, fmt.Errorf("%w: %s is %s", ErrAttestationPending, txHash.Hex(), m.Status)
		}

		message, err := hexutil.Decode(m.Message)
		if err != nil {
			return nil, fmt.Errorf("invalid message hex for %s: %v", txHash.Hex(), err)
		}
		attestation, err := hexutil.Decode(m.Attestation)
		if err != nil {
			return nil, fmt.Errorf("invalid attestation hex for %s: %v", txHash.Hex(), err)
		}

		metrics.AttestationPolls.WithLabelValues(domainLabel, statusComplete).Inc()
		return &Attested{Message: message, Attestation: attestation}, nil
	}

	metrics.AttestationPolls.WithLabelValues(domainLabel, "not_found").Inc()
	return nil, fmt.Errorf("%w: no V2 message in %s", ErrNotFound, txHash.Hex())
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
