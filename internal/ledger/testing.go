package ledger

import "time"

// SeedBalance is a test helper that funds a wallet in the in-memory store by
// appending a synthetic completed recharge, keeping the balance/history
// invariant intact.
func SeedBalance(s Store, userID, txID string, amount int64) {
	mem, ok := s.(*memoryStore)
	if !ok {
		return
	}
	w := mem.wallet(userID, true)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.byTxID[txID]; exists {
		return
	}
	rec := RechargeRecord{
		MerchantTransactionID: txID,
		Amount:                amount,
		State:                 RechargeStateCompleted,
		ResponseCode:          "PAYMENT_SUCCESS",
		RechargeDate:          time.Now().UTC(),
	}
	w.byTxID[txID] = len(w.doc.Recharges)
	w.doc.Recharges = append(w.doc.Recharges, rec)
	w.doc.Balance += amount
}
