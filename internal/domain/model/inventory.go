package model

import "time"

// UnsoldStockItem is a credential in the pool, not assigned to any buyer.
type UnsoldStockItem struct {
	ID        int64
	Address   string
	Secret    string
	CreatedAt time.Time
}

// SoldAccount is a credential assigned to a buyer until ExpiresAt.
type SoldAccount struct {
	ID        int64
	Address   string
	Secret    string
	BuyerID   int64
	ExpiresAt time.Time
	SoldAt    time.Time
}

// IsExpired reports whether the assignment has lapsed at now.
func (a *SoldAccount) IsExpired(now time.Time) bool {
	return a.ExpiresAt.Before(now)
}

// DeliveryPayload is what gets handed to the transport after a sale.
type DeliveryPayload struct {
	AccountID int64
	BuyerID   int64
	Address   string
	Secret    string
	ExpiresAt time.Time
}

// SweptAccount records one sold account moved back to stock.
type SweptAccount struct {
	AccountID int64
	StockID   int64
	BuyerID   int64
	Address   string
}
