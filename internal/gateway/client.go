package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/calmtalk/calmtalk/internal/config"
)

// PayRequest describes a payment initiation toward the gateway. Amount is in
// minor currency units, already converted at the caller's boundary.
type PayRequest struct {
	MerchantTransactionID string
	UserID                string
	Amount                int64
}

// PayResponse carries the hosted payment page the user is redirected to.
type PayResponse struct {
	RedirectURL string
}

// StatusResponse is the verified outcome of a payment status poll.
type StatusResponse struct {
	Code                  string
	MerchantTransactionID string
	State                 string
	Amount                int64
}

// Success reports whether the gateway confirmed the payment.
func (r StatusResponse) Success() bool {
	return r.Code == "PAYMENT_SUCCESS"
}

// Client represents a connector to the external payment processor.
type Client interface {
	Pay(ctx context.Context, req PayRequest) (PayResponse, error)
	Status(ctx context.Context, merchantTransactionID string) (StatusResponse, error)
}

// HTTPClient talks to a PhonePe-compatible gateway over HTTPS, signing
// requests and verifying response signatures with the salted checksum scheme.
type HTTPClient struct {
	cfg  config.Gateway
	http *http.Client
}

// NewHTTPClient builds a gateway client from configuration.
func NewHTTPClient(cfg config.Gateway) *HTTPClient {
	return &HTTPClient{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}
}

type payPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type payAPIResponse struct {
	Success bool `json:"success"`
	Data    struct {
		InstrumentResponse struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
	Message string `json:"message"`
}

type statusAPIResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		State                 string `json:"state"`
		Amount                int64  `json:"amount"`
	} `json:"data"`
}

// Pay submits a signed payment initiation and returns the redirect URL.
func (c *HTTPClient) Pay(ctx context.Context, req PayRequest) (PayResponse, error) {
	payload := payPayload{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: req.MerchantTransactionID,
		MerchantUserID:        req.UserID,
		Amount:                req.Amount,
		RedirectURL: fmt.Sprintf("%s/api/v1/recharge/validate/%s/%s",
			c.cfg.CallbackBaseURL, req.MerchantTransactionID, req.UserID),
		RedirectMode:      "REDIRECT",
		PaymentInstrument: paymentInstrument{Type: "PAY_PAGE"},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return PayResponse{}, fmt.Errorf("encode pay payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	body, err := json.Marshal(map[string]string{"request": encoded})
	if err != nil {
		return PayResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HostURL+payEndpoint, bytes.NewReader(body))
	if err != nil {
		return PayResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(verifyHeader, PayChecksum(encoded, c.cfg.SaltKey, c.cfg.SaltIndex))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return PayResponse{}, fmt.Errorf("gateway pay request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PayResponse{}, fmt.Errorf("gateway pay status %d", resp.StatusCode)
	}

	var decoded payAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return PayResponse{}, fmt.Errorf("decode pay response: %w", err)
	}
	url := decoded.Data.InstrumentResponse.RedirectInfo.URL
	if url == "" {
		return PayResponse{}, fmt.Errorf("gateway pay rejected: %s", decoded.Message)
	}
	return PayResponse{RedirectURL: url}, nil
}

// Status polls the gateway for a transaction's outcome. The response
// signature is verified before any payload field is decoded.
func (c *HTTPClient) Status(ctx context.Context, merchantTransactionID string) (StatusResponse, error) {
	url := fmt.Sprintf("%s%s/%s/%s", c.cfg.HostURL, statusEndpoint, c.cfg.MerchantID, merchantTransactionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(verifyHeader, StatusChecksum(c.cfg.MerchantID, merchantTransactionID, c.cfg.SaltKey, c.cfg.SaltIndex))
	httpReq.Header.Set(merchantHeader, c.cfg.MerchantID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("gateway status request: %w", err)
	}
	defer resp.Body.Close()

	if err := VerifyStatusHeader(resp.Header.Get(verifyHeader), c.cfg.MerchantID, merchantTransactionID, c.cfg.SaltKey, c.cfg.SaltIndex); err != nil {
		return StatusResponse{}, err
	}

	var decoded statusAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return StatusResponse{}, fmt.Errorf("decode status response: %w", err)
	}

	return StatusResponse{
		Code:                  decoded.Code,
		MerchantTransactionID: decoded.Data.MerchantTransactionID,
		State:                 decoded.Data.State,
		Amount:                decoded.Data.Amount,
	}, nil
}
