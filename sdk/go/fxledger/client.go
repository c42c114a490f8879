package fxledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Transfers wait for counterparty and notary round trips, so it is longer than
// a plain REST call would need.
const DefaultHTTPTimeout = 90 * time.Second

// Client wraps the HTTP interactions with a wallet node's REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Party identifies a ledger participant.
type Party struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Receipt is the notary's proof that a transition was committed.
type Receipt struct {
	TxID        string    `json:"tx_id"`
	Notary      Party     `json:"notary"`
	CommittedAt time.Time `json:"committed_at"`
}

// FlowResult is returned by every wallet operation. The signed transition is
// kept raw; most callers only need the receipt.
type FlowResult struct {
	Transition json.RawMessage `json:"transition"`
	Receipt    Receipt         `json:"receipt"`
}

// Wallet is one unconsumed balance record owned by the node.
type Wallet struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	Quantity int64  `json:"quantity"`
	TxID     string `json:"tx_id"`
	Index    int    `json:"index"`
}

// WalletList is the response of ListWallets.
type WalletList struct {
	Owner   string   `json:"owner"`
	Wallets []Wallet `json:"wallets"`
}

// Transfer describes a payment to another party. QuoteCurrency asks for an
// oracle-attested rate to be attached.
type Transfer struct {
	Counterparty  string `json:"counterparty"`
	Amount        string `json:"amount"`
	QuoteCurrency string `json:"quote_currency,omitempty"`
}

// Rate is an exchange rate between two currencies. Rate is a decimal string.
type Rate struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rate string `json:"rate"`
}

// APIError represents an error response from the node.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("fxledger api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fxledger api error (%d): %s", e.StatusCode, e.Message)
}

// CodeOf returns the node error code carried by err, or "" if err is not an
// *APIError.
func CodeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewClient instantiates a client for the node at rawURL. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the bearer token sent with each request.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the bearer token. An empty token sends no header.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// CreateWallet issues a new wallet holding amount, e.g. "100 EUR".
func (c *Client) CreateWallet(ctx context.Context, amount string) (FlowResult, error) {
	var out FlowResult
	err := c.send(ctx, http.MethodPost, "/api/v1/wallets", map[string]string{"amount": amount}, &out)
	return out, err
}

// ListWallets returns the node's unconsumed balances.
func (c *Client) ListWallets(ctx context.Context) (WalletList, error) {
	var out WalletList
	err := c.send(ctx, http.MethodGet, "/api/v1/wallets", nil, &out)
	return out, err
}

// DeleteWallet retires the empty wallet for currency.
func (c *Client) DeleteWallet(ctx context.Context, currency string) (FlowResult, error) {
	var out FlowResult
	err := c.send(ctx, http.MethodDelete, "/api/v1/wallets/"+url.PathEscape(currency), nil, &out)
	return out, err
}

// Transfer moves funds to another party.
func (c *Client) Transfer(ctx context.Context, t Transfer) (FlowResult, error) {
	var out FlowResult
	err := c.send(ctx, http.MethodPost, "/api/v1/transfers", t, &out)
	return out, err
}

// QueryRate asks the oracle for the from/to rate.
func (c *Client) QueryRate(ctx context.Context, from, to string) (Rate, error) {
	var out Rate
	q := url.Values{"from": {from}, "to": {to}}
	err := c.send(ctx, http.MethodGet, "/api/v1/rates?"+q.Encode(), nil, &out)
	return out, err
}

// OracleRates lists the rate table of an oracle node.
func (c *Client) OracleRates(ctx context.Context) ([]Rate, error) {
	var out struct {
		Rates []Rate `json:"rates"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/oracle/rates", nil, &out)
	return out.Rates, err
}

// ReplaceOracleRates swaps the oracle's rate table.
func (c *Client) ReplaceOracleRates(ctx context.Context, rates []Rate) ([]Rate, error) {
	var out struct {
		Rates []Rate `json:"rates"`
	}
	err := c.send(ctx, http.MethodPut, "/api/v1/oracle/rates", map[string][]Rate{"rates": rates}, &out)
	return out.Rates, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
