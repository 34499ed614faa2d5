// Package notify pushes trade events to the operator. Delivery is
// best-effort and never blocks the trading path.
package notify

import (
	"github.com/shopspring/decimal"
)

// Trade carries the fields worth telling a human about.
type Trade struct {
	Mint      string
	Dex       string
	SOL       decimal.Decimal // spent on buys, received on sells
	Price     decimal.Decimal
	Tokens    decimal.Decimal
	Reason    string
	Signature string
}

// Notifier delivers trade and alert messages.
type Notifier interface {
	Buy(t Trade)
	Sell(t Trade)
	Alert(text string)
}

// Nop is the notifier used when no channel is configured.
type Nop struct{}

func (Nop) Buy(Trade)    {}
func (Nop) Sell(Trade)   {}
func (Nop) Alert(string) {}

func protocolEmoji(dex string) string {
	switch dex {
	case "pumpfun":
		return "🚀"
	case "pumpswap":
		return "💧"
	default:
		return "🔗"
	}
}
