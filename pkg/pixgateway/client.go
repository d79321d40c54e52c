/**
 * @description
 * This package provides a client for the PIX payment gateway's partner API.
 * It encapsulates the two-call charge sequence the funnel depends on:
 * authenticating with client credentials for a bearer token, then requesting
 * a cash-in charge that yields a scannable/copyable payable code.
 *
 * Both calls run through the backoff HTTP client (5xx and network faults are
 * retried, 4xx are not) and are guarded by a shared circuit breaker so a
 * misbehaving gateway sheds load quickly instead of queueing retries.
 *
 * @dependencies
 * - pkg/retryhttp: bounded exponential-backoff transport.
 * - github.com/sony/gobreaker: circuit breaker.
 */

package pixgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/pkg/retryhttp"
)

var (
	// ErrCredentialsMissing means the gateway client id/secret were not
	// configured; the operation cannot proceed and is not retried.
	ErrCredentialsMissing = errors.New("gateway credentials not configured")

	// ErrAuthFailed covers rejected credentials and token-less auth responses.
	ErrAuthFailed = errors.New("gateway authentication failed")

	// ErrInvalidAmount rejects non-positive charge amounts before any call.
	ErrInvalidAmount = errors.New("charge amount must be positive")

	// ErrRateLimited maps the gateway's 429 responses.
	ErrRateLimited = errors.New("gateway rate limit exceeded")

	// ErrUnavailable is returned while the circuit breaker is open.
	ErrUnavailable = errors.New("gateway temporarily unavailable")
)

// UpstreamError is a terminal non-2xx gateway response.
type UpstreamError struct {
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gateway error: status %d - %s", e.StatusCode, e.Detail)
}

// ChargeRequest describes one cash-in charge to issue.
type ChargeRequest struct {
	AmountCentavos int64
	Description    string
	PayerName      string // funnel username; the gateway requires a payer block
	WebhookURL     string
}

// Client is a client for the PIX gateway partner API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *retryhttp.Client
	breaker      *gobreaker.CircuitBreaker
}

// NewClient creates a gateway client on top of the retrying transport.
func NewClient(baseURL, clientID, clientSecret string, transport *retryhttp.Client) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         transport,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "pix-gateway",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 10
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("level=warn component=pix_gateway msg=\"circuit state change\" breaker=%s from=%s to=%s", name, from, to)
			},
		}),
	}
}

type authRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

type chargePayer struct {
	Name  string `json:"name"`
	CPF   string `json:"cpf"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type chargeRequestBody struct {
	Amount      float64     `json:"amount"` // gateway wire format is decimal reals
	Description string      `json:"description"`
	WebhookURL  string      `json:"webhook_url"`
	Client      chargePayer `json:"client"`
}

type chargeResponseBody struct {
	PixCode    string `json:"pix_code"`
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
}

// Authenticate exchanges the configured client credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.clientID) == "" || strings.TrimSpace(c.clientSecret) == "" {
		return "", ErrCredentialsMissing
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.http.R().
			SetHeader("Content-Type", "application/json").
			SetBody(authRequest{ClientID: c.clientID, ClientSecret: c.clientSecret})

		resp, err := c.http.Execute(ctx, req, http.MethodPost, c.baseURL+"/api/partner/v1/auth-token")
		if err != nil {
			return nil, fmt.Errorf("auth request failed: %w", err)
		}
		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			log.Printf("level=warn component=pix_gateway op=auth status=%d msg=\"auth rejected\"", resp.StatusCode())
			return nil, ErrAuthFailed
		}

		var parsed authResponse
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, fmt.Errorf("auth response decode failed: %w", err)
		}
		if parsed.AccessToken == "" {
			return nil, fmt.Errorf("%w: no token in response", ErrAuthFailed)
		}
		return parsed.AccessToken, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrUnavailable
		}
		return "", err
	}
	return result.(string), nil
}

// CreateCharge requests a new PIX charge for the given amount. The returned
// Charge carries the payable code and the gateway's unique identifier.
func (c *Client) CreateCharge(ctx context.Context, token string, req ChargeRequest) (*domain.Charge, error) {
	if req.AmountCentavos <= 0 {
		return nil, ErrInvalidAmount
	}

	body := chargeRequestBody{
		Amount:      float64(req.AmountCentavos) / 100,
		Description: req.Description,
		WebhookURL:  req.WebhookURL,
		Client: chargePayer{
			Name:  req.PayerName,
			CPF:   "00000000000",
			Email: req.PayerName + "@roblox.temp",
			Phone: "00000000000",
		},
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		httpReq := c.http.R().
			SetHeader("Content-Type", "application/json").
			SetHeader("Authorization", "Bearer "+token).
			SetBody(body)

		resp, err := c.http.Execute(ctx, httpReq, http.MethodPost, c.baseURL+"/api/partner/v1/cash-in")
		if err != nil {
			return nil, fmt.Errorf("cash-in request failed: %w", err)
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return nil, ErrRateLimited
		}
		if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
			log.Printf("level=warn component=pix_gateway op=cash_in status=%d msg=\"charge rejected\"", resp.StatusCode())
			return nil, &UpstreamError{StatusCode: resp.StatusCode(), Detail: strings.TrimSpace(string(resp.Body()))}
		}

		var parsed chargeResponseBody
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, fmt.Errorf("cash-in response decode failed: %w", err)
		}
		if parsed.PixCode == "" || parsed.Identifier == "" {
			return nil, &UpstreamError{StatusCode: resp.StatusCode(), Detail: "response missing pix_code or identifier"}
		}
		return &domain.Charge{
			AmountCentavos: req.AmountCentavos,
			Identifier:     parsed.Identifier,
			PayableCode:    parsed.PixCode,
			IssuedAt:       time.Now(),
		}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrUnavailable
		}
		return nil, err
	}
	return result.(*domain.Charge), nil
}
