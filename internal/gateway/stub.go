package gateway

import (
	"context"
	"sync"
)

// StubClient simulates the payment gateway for dev mode and unit tests. It
// records initiated transactions and answers status polls from a
// configurable outcome table.
type StubClient struct {
	mu       sync.Mutex
	payments map[string]PayRequest
	statuses map[string]StatusResponse
}

// NewStub constructs an empty stub gateway.
func NewStub() *StubClient {
	return &StubClient{
		payments: make(map[string]PayRequest),
		statuses: make(map[string]StatusResponse),
	}
}

// Pay records the initiation and returns a synthetic redirect URL.
func (s *StubClient) Pay(_ context.Context, req PayRequest) (PayResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[req.MerchantTransactionID] = req
	return PayResponse{RedirectURL: "https://pay.example.test/page/" + req.MerchantTransactionID}, nil
}

// Status answers from the outcome table; unseeded transactions report as
// pending so a poll before SetStatus never credits anything.
func (s *StubClient) Status(_ context.Context, merchantTransactionID string) (StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[merchantTransactionID]; ok {
		return st, nil
	}
	return StatusResponse{
		Code:                  "PAYMENT_PENDING",
		MerchantTransactionID: merchantTransactionID,
		State:                 "PENDING",
	}, nil
}

// SetStatus seeds the outcome returned for a transaction.
func (s *StubClient) SetStatus(merchantTransactionID string, st StatusResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.MerchantTransactionID = merchantTransactionID
	s.statuses[merchantTransactionID] = st
}

// Initiated reports whether Pay was called for the transaction.
func (s *StubClient) Initiated(merchantTransactionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.payments[merchantTransactionID]
	return ok
}
