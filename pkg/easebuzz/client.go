package easebuzz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	SandboxInitiateURL    = "https://testpay.easebuzz.in/payment/initiateLink"
	SandboxPayURL         = "https://testpay.easebuzz.in/pay/"
	SandboxRetrieveURL    = "https://testdashboard.easebuzz.in/transaction/v2.1/retrieve"
	ProductionInitiateURL = "https://pay.easebuzz.in/payment/initiateLink"
	ProductionPayURL      = "https://pay.easebuzz.in/pay/"
	ProductionRetrieveURL = "https://dashboard.easebuzz.in/transaction/v2.1/retrieve"

	defaultTimeout = 15 * time.Second
)

// maxResponseSize is the maximum allowed response body size (1MB)
const maxResponseSize = 1 << 20

// Endpoints are the gateway URLs of one environment.
type Endpoints struct {
	InitiateURL string
	PayURL      string
	RetrieveURL string
}

// DefaultEndpoints returns the production URLs when production is set, otherwise the sandbox.
func DefaultEndpoints(production bool) Endpoints {
	if production {
		return Endpoints{
			InitiateURL: ProductionInitiateURL,
			PayURL:      ProductionPayURL,
			RetrieveURL: ProductionRetrieveURL,
		}
	}
	return Endpoints{
		InitiateURL: SandboxInitiateURL,
		PayURL:      SandboxPayURL,
		RetrieveURL: SandboxRetrieveURL,
	}
}

// Config holds gateway credentials and endpoints.
type Config struct {
	// Production selects the production endpoints for any URL left empty.
	Production  bool
	Key         string
	Salt        string
	InitiateURL string
	PayURL      string
	RetrieveURL string
	Timeout     time.Duration
	Sequences   HashSequences
}

// Client talks to the payment gateway. It is safe for concurrent use and holds no
// per-request state.
type Client struct {
	httpClient *http.Client
	config     Config
	signer     *Signer
	newTxnID   func() (string, error)
	debug      bool
}

// NewClient constructs a gateway client. Missing endpoints default to the
// environment selected by config.Production.
func NewClient(config Config) *Client {
	defaults := DefaultEndpoints(config.Production)
	if config.InitiateURL == "" {
		config.InitiateURL = defaults.InitiateURL
	}
	if config.PayURL == "" {
		config.PayURL = defaults.PayURL
	}
	if config.RetrieveURL == "" {
		config.RetrieveURL = defaults.RetrieveURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		signer:     NewSigner(config.Key, config.Salt, config.Sequences),
		newTxnID:   NewTransactionID,
		debug:      os.Getenv("ENV") == "development",
	}
}

// Signer exposes the hash signer configured for this client.
func (c *Client) Signer() *Signer {
	return c.signer
}

// PaymentURL returns the hosted checkout URL for an access key.
func (c *Client) PaymentURL(accessKey string) string {
	return strings.TrimSuffix(c.config.PayURL, "/") + "/" + url.PathEscape(accessKey)
}

// BuildInitiatePayload validates input and produces the signed form. callbackBase is
// the public origin the gateway redirects back to.
func (c *Client) BuildInitiatePayload(in InitiateRequest, callbackBase string) (*InitiatePayload, error) {
	amount, err := NormalizeAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	callbackBase = strings.TrimSuffix(strings.TrimSpace(callbackBase), "/")
	if callbackBase == "" {
		return nil, errors.New("callback base url is empty")
	}

	txnID := in.TransactionID
	if txnID == "" {
		if txnID, err = c.newTxnID(); err != nil {
			return nil, fmt.Errorf("failed to generate transaction id: %w", err)
		}
	}

	form := url.Values{}
	form.Set("key", c.config.Key)
	form.Set("txnid", txnID)
	form.Set("amount", amount)
	form.Set("productinfo", in.ProductInfo)
	form.Set("firstname", in.FirstName)
	form.Set("email", in.Email)
	form.Set("phone", in.Phone)
	form.Set("surl", callbackBase+CallbackSuccessPath)
	form.Set("furl", callbackBase+CallbackFailurePath)
	form.Set(UDFRegistrationID, in.RegistrationID)
	form.Set(UDFEventID, in.EventID)
	form.Set(UDFUserID, in.UserID)
	for i := 4; i <= 10; i++ {
		form.Set(fmt.Sprintf("udf%d", i), "")
	}

	p := &InitiatePayload{TransactionID: txnID, Amount: amount, Form: form}
	form.Set("hash", c.signer.BuildRequestHash(p.Fields()))
	return p, nil
}

// InitiateTransaction posts the payload to the initiate endpoint. It never returns an
// error; callers inspect OK.
func (c *Client) InitiateTransaction(ctx context.Context, payload *InitiatePayload) Response {
	return c.postForm(ctx, c.config.InitiateURL, payload.Form, payload.TransactionID)
}

// RetrieveTransaction asks the gateway for the current state of a transaction.
func (c *Client) RetrieveTransaction(ctx context.Context, transactionID string) RetrieveResult {
	form := url.Values{}
	form.Set("key", c.config.Key)
	form.Set("txnid", transactionID)
	form.Set("hash", c.signer.BuildRetrieveHash(transactionID))

	resp := c.postForm(ctx, c.config.RetrieveURL, form, transactionID)
	return RetrieveResult{
		Response: resp,
		RequestPayload: map[string]string{
			"key":   c.config.Key,
			"txnid": transactionID,
			"hash":  "***MASKED***",
		},
	}
}

// postForm performs a form-encoded POST and captures status and body.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, transactionID string) Response {
	res := Response{Endpoint: endpoint}
	start := time.Now()

	if c.debug {
		log.Debug().
			Str("endpoint", endpoint).
			Str("transaction_id", transactionID).
			Msg("[GATEWAY] Outgoing request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		res.Err = fmt.Sprintf("failed to create request: %v", err)
		return res
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		res.Err = fmt.Sprintf("request failed: %v", err)
		log.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Str("transaction_id", transactionID).
			Dur("latency", time.Since(start)).
			Msg("[GATEWAY] Request failed")
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		res.Err = fmt.Sprintf("failed to read response: %v", err)
		return res
	}

	if json.Valid(body) {
		res.Body = json.RawMessage(body)
	} else {
		res.Text = string(body)
	}

	switch {
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		res.Err = fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode)
	case res.Body == nil:
		res.Err = "malformed response body"
	default:
		res.OK = true
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("transaction_id", transactionID).
		Int("status_code", resp.StatusCode).
		Bool("ok", res.OK).
		Dur("latency", time.Since(start)).
		Msg("[GATEWAY] Response received")

	return res
}
