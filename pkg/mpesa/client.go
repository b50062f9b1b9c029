package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pesapoints/pesapoints-backend/pkg/config"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	timestampLayout = "20060102150405"
	transactionType = "CustomerPayBillOnline"

	// Token expiry reported by Daraja is 3599s; refresh with headroom.
	tokenExpirySlack = 60 * time.Second
)

var errInvalidMpesaEnv = fmt.Errorf("mpesa environment must be %q or %q", sandboxEnv, productionEnv)

// Client talks to the Daraja API: OAuth token management plus STK push
// initiation. Callback handling lives with the webhook controllers; this
// client only initiates pushes.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	environment   string
	consumerKey   string
	consumerSec   string
	passkey       string
	shortCode     string
	callbackURL   string
	callbackToken string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now func() time.Time
}

// NewClient validates the Daraja configuration and returns a ready client.
func NewClient(ctx context.Context, cfg config.MpesaConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	var baseURL string
	switch env {
	case sandboxEnv:
		baseURL = sandboxBaseURL
	case productionEnv:
		baseURL = productionBaseURL
	default:
		return nil, errInvalidMpesaEnv
	}

	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return nil, errors.New("mpesa consumer key and secret are required")
	}
	if strings.TrimSpace(cfg.Passkey) == "" {
		return nil, errors.New("mpesa passkey is required")
	}
	if strings.TrimSpace(cfg.ShortCode) == "" {
		return nil, errors.New("mpesa short code is required")
	}
	if strings.TrimSpace(cfg.CallbackURL) == "" {
		return nil, errors.New("mpesa callback url is required")
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("mpesa client initialized (%s)", env))
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		environment:   env,
		consumerKey:   cfg.ConsumerKey,
		consumerSec:   cfg.ConsumerSecret,
		passkey:       cfg.Passkey,
		shortCode:     cfg.ShortCode,
		callbackURL:   cfg.CallbackURL,
		callbackToken: cfg.CallbackToken,
		now:           time.Now,
	}, nil
}

// Environment reports the normalized Daraja environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// CallbackToken returns the shared secret expected on callback requests.
// Daraja does not sign callbacks, so the token stands in for a signature.
func (c *Client) CallbackToken() string {
	if c == nil {
		return ""
	}
	return c.callbackToken
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && c.now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	url := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSec)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting daraja token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("daraja token request returned %d", resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decoding daraja token: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("daraja token response missing access_token")
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = c.now().Add(time.Hour - tokenExpirySlack)
	return c.accessToken, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int    `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResult carries the correlation ids Daraja assigns to a push.
type STKPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush asks Daraja to prompt the given phone for payment. The returned
// CheckoutRequestID is the correlation id the completion callback echoes back.
func (c *Client) STKPush(ctx context.Context, phone string, amount int, accountRef, description string) (*STKPushResult, error) {
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if !ValidPhone(phone) {
		return nil, fmt.Errorf("invalid msisdn %q", phone)
	}

	accessToken, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.now().Format(timestampLayout)
	payload := stkPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          Password(c.shortCode, c.passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.shortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.callbackURL,
		AccountReference:  accountRef,
		TransactionDesc:   description,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding stk push request: %w", err)
	}

	url := c.baseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building stk push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting stk push: %w", err)
	}
	defer resp.Body.Close()

	var result STKPushResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding stk push response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || result.ResponseCode != "0" {
		return nil, fmt.Errorf("stk push rejected (%d): %s", resp.StatusCode, result.ResponseDescription)
	}
	if result.CheckoutRequestID == "" {
		return nil, errors.New("stk push response missing CheckoutRequestID")
	}

	return &result, nil
}

// Password derives the Lipa Na M-Pesa password for the given timestamp.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
