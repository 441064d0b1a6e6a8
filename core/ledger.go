package core

import "time"

// TxType tags a currency transaction with its business reason.
type TxType string

const (
	TxReward     TxType = "reward"
	TxPurchase   TxType = "purchase"
	TxRefund     TxType = "refund"
	TxAdjustment TxType = "adjustment"
)

// CurrencyTransaction is one append-only ledger entry.
type CurrencyTransaction struct {
	ID           string         `json:"id"`
	ActorID      ActorID        `json:"actor_id"`
	Amount       int64          `json:"amount"`
	Type         TxType         `json:"type"`
	ReferenceID  string         `json:"reference_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	BalanceAfter int64          `json:"balance_after"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Adjustment requests a signed balance change.
type Adjustment struct {
	ActorID     ActorID
	Amount      int64
	Type        TxType
	ReferenceID string
	Metadata    map[string]any
}

// AdjustResult is returned by a successful ledger adjustment.
type AdjustResult struct {
	NewBalance    int64  `json:"new_balance"`
	TransactionID string `json:"transaction_id"`
}
