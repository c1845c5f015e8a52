// Package twilio is a small Twilio REST client covering SMS and outbound calls.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aymenesoualem/bookingagent/internal/reliability"
)

const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

var ErrNotConfigured = errors.New("twilio credentials are not configured")

// Config configures the Twilio client.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	RetryBase  time.Duration
}

// Client is a Twilio REST API client.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
}

// New creates a client. Missing credentials yield ErrNotConfigured.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
	}, nil
}

// FromNumber is the account number used as sender and caller id.
func (c *Client) FromNumber() string {
	return c.fromNumber
}

// Message represents a Twilio message resource.
type Message struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

// SendSMS sends body to the given number from the configured sender.
func (c *Client) SendSMS(ctx context.Context, to, body string) (*Message, error) {
	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.fromNumber)
	data.Set("Body", body)

	var msg Message
	if err := c.post(ctx, c.accountURL("Messages.json"), data, &msg); err != nil {
		return nil, fmt.Errorf("send sms: %w", err)
	}
	return &msg, nil
}

// Call represents a Twilio call resource.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// CreateCall dials to and executes the inline TwiML once answered.
func (c *Client) CreateCall(ctx context.Context, to, twiml string) (*Call, error) {
	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.fromNumber)
	data.Set("Twiml", twiml)

	var call Call
	if err := c.post(ctx, c.accountURL("Calls.json"), data, &call); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	return &call, nil
}

type incomingNumbers struct {
	Numbers []struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"incoming_phone_numbers"`
}

type callerIDs struct {
	CallerIDs []struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"outgoing_caller_ids"`
}

// IsNumberAllowed reports whether number is one of the account's own
// numbers or a verified outgoing caller id.
func (c *Client) IsNumberAllowed(ctx context.Context, number string) (bool, error) {
	query := url.Values{}
	query.Set("PhoneNumber", number)

	var incoming incomingNumbers
	if err := c.get(ctx, c.accountURL("IncomingPhoneNumbers.json")+"?"+query.Encode(), &incoming); err != nil {
		return false, fmt.Errorf("list incoming numbers: %w", err)
	}
	if len(incoming.Numbers) > 0 {
		return true, nil
	}

	var verified callerIDs
	if err := c.get(ctx, c.accountURL("OutgoingCallerIds.json")+"?"+query.Encode(), &verified); err != nil {
		return false, fmt.Errorf("list caller ids: %w", err)
	}
	return len(verified.CallerIDs) > 0, nil
}

// Error represents a Twilio API error.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (c *Client) accountURL(resource string) string {
	return fmt.Sprintf("%s/Accounts/%s/%s", c.baseURL, c.accountSID, resource)
}

func (c *Client) get(ctx context.Context, endpoint string, result any) error {
	return c.doWithRetry(ctx, http.MethodGet, endpoint, nil, result)
}

func (c *Client) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	return c.doWithRetry(ctx, http.MethodPost, endpoint, data, result)
}

// doWithRetry retries retryable statuses. POSTs are only retried on 429,
// where Twilio guarantees the request was not processed.
func (c *Client) doWithRetry(ctx context.Context, method, endpoint string, data url.Values, result any) error {
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, method, endpoint, data, result)
		var apiErr *Error
		if err == nil || attempt >= c.maxRetries || !errors.As(err, &apiErr) || !retryable(method, apiErr.Status) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, c.retryBase, 4*c.retryBase)):
		}
	}
}

func retryable(method string, status int) bool {
	if method == http.MethodPost {
		return status == http.StatusTooManyRequests
	}
	return reliability.IsRetryableHTTPStatus(status)
}

func (c *Client) do(ctx context.Context, method, endpoint string, data url.Values, result any) error {
	var body io.Reader
	if data != nil {
		body = strings.NewReader(data.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if apiErr.Status == 0 {
			apiErr.Status = resp.StatusCode
		}
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
