package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

const (
	payEndpoint    = "/pg/v1/pay"
	statusEndpoint = "/pg/v1/status"

	verifyHeader   = "X-VERIFY"
	merchantHeader = "X-MERCHANT-ID"
)

// ErrChecksumMismatch indicates a gateway response whose signature does not
// match the expected checksum. Nothing in such a payload may be trusted.
var ErrChecksumMismatch = errors.New("gateway checksum mismatch")

// PayChecksum computes the X-VERIFY value for a payment initiation request:
// sha256(base64(payloadJSON) + "/pg/v1/pay" + saltKey) suffixed with the salt
// index.
func PayChecksum(base64Payload, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(base64Payload + payEndpoint + saltKey))
	return hex.EncodeToString(sum[:]) + "###" + saltIndex
}

// StatusChecksum computes the X-VERIFY value for a status poll:
// sha256("/pg/v1/status/" + merchantID + "/" + merchantTransactionID + saltKey)
// suffixed with the salt index.
func StatusChecksum(merchantID, merchantTransactionID, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(statusEndpoint + "/" + merchantID + "/" + merchantTransactionID + saltKey))
	return hex.EncodeToString(sum[:]) + "###" + saltIndex
}

// VerifyStatusHeader checks a returned X-VERIFY header against the expected
// status checksum in constant time.
func VerifyStatusHeader(header, merchantID, merchantTransactionID, saltKey, saltIndex string) error {
	expected := StatusChecksum(merchantID, merchantTransactionID, saltKey, saltIndex)
	if !hmac.Equal([]byte(header), []byte(expected)) {
		return ErrChecksumMismatch
	}
	return nil
}
