package broker

import "errors"

// Order rejections. A rejected order leaves the broker unchanged.
var (
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrSymbolDisabled       = errors.New("symbol disabled")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidOrder         = errors.New("invalid order")
)

// Admin errors.
var (
	ErrUnknownBroker    = errors.New("unknown broker")
	ErrBrokerExists     = errors.New("broker already exists")
	ErrHoldingsNotEmpty = errors.New("broker holdings not empty")
	ErrInvalidAmount    = errors.New("invalid amount")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrPriceUnavailable, "PriceUnavailable"},
	{ErrSymbolDisabled, "SymbolDisabled"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInsufficientHoldings, "InsufficientHoldings"},
	{ErrInvalidOrder, "InvalidOrder"},
	{ErrUnknownBroker, "UnknownBroker"},
	{ErrBrokerExists, "BrokerExists"},
	{ErrHoldingsNotEmpty, "HoldingsNotEmpty"},
	{ErrInvalidAmount, "InvalidAmount"},
}

// Kind returns the stable name of a broker error, or "" for any other error.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// IsRejection reports whether err is an order rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrSymbolDisabled) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientHoldings) ||
		errors.Is(err, ErrInvalidOrder)
}
