package recharge

// PayRequest captures user-provided data to initiate a wallet top-up. Amount
// is in major currency units.
type PayRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// PayResponse carries the hosted payment page URL.
type PayResponse struct {
	Success               bool   `json:"success"`
	MerchantTransactionID string `json:"merchant_transaction_id"`
	PaymentURL            string `json:"payment_url"`
}

// RechargeTransactionResponse mirrors a stored recharge record.
type RechargeTransactionResponse struct {
	MerchantTransactionID string `json:"merchant_transaction_id"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
	ResponseCode          string `json:"response_code"`
}

// ValidateResponse is the API result of payment validation.
type ValidateResponse struct {
	Success     bool                        `json:"success"`
	Message     string                      `json:"message"`
	Balance     int64                       `json:"balance"`
	Transaction RechargeTransactionResponse `json:"transaction"`
}

// BalanceResponse reports a wallet's available balance in minor units.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}
