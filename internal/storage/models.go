package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample is one persisted price observation for a monitored asset.
type Sample struct {
	ID         int64
	Symbol     string
	Price      decimal.Decimal
	Volume     decimal.Decimal
	Source     string
	ObservedAt time.Time
	CreatedAt  time.Time
}

// Event records one completed escalation attempt, including AI output.
type Event struct {
	ID             int64
	Symbol         string
	Price          decimal.Decimal
	Volatility     decimal.Decimal
	Level          string
	SentinelOutput string
	DeepOutput     *string
	Delivered      bool
	TriggeredAt    time.Time
	CreatedAt      time.Time
}
