package trade

import (
	"errors"

	"github.com/atmx/perp-engine/internal/config"
	"github.com/atmx/perp-engine/internal/oracle"
)

// Precondition failures.
var (
	ErrMarketIsDelisted            = errors.New("trade: market is delisted")
	ErrMarketIsClosed              = errors.New("trade: market is closed")
	ErrPositionAlreadyClosed       = errors.New("trade: position already closed")
	ErrDecreaseTooHighPositionSize = errors.New("trade: decrease exceeds position size")
	ErrBadSizeDelta                = errors.New("trade: size delta must be nonzero")
	ErrNotAllowIncrease            = errors.New("trade: market does not allow increase")
	ErrPositionSizeExceed          = errors.New("trade: market position size limit exceeded")
	ErrBadNumberOfPosition         = errors.New("trade: too many open positions")
	ErrBadExposure                 = errors.New("trade: size delta does not match position direction")
	ErrBadPositionSize             = errors.New("trade: resulting position size is zero")
	ErrTooTinyPosition             = errors.New("trade: remaining position below minimum size")
	ErrSizeOutOfRange              = errors.New("trade: size or price out of range")
	ErrReservedValueStillEnough    = errors.New("trade: position profit below reserve")
	ErrPLPHealthy                  = errors.New("trade: liquidity pool is healthy")
)

// Solvency failures.
var (
	ErrInsufficientLiquidity      = errors.New("trade: reserve exceeds pool utilisation cap")
	ErrInsufficientFreeCollateral = errors.New("trade: insufficient free collateral")
	ErrSubAccountEquityIsUnderMMR = errors.New("trade: equity under maintenance margin")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrMarketIsDelisted, "MarketIsDelisted"},
	{ErrMarketIsClosed, "MarketIsClosed"},
	{ErrPositionAlreadyClosed, "PositionAlreadyClosed"},
	{ErrDecreaseTooHighPositionSize, "DecreaseTooHighPositionSize"},
	{ErrBadSizeDelta, "BadSizeDelta"},
	{ErrNotAllowIncrease, "NotAllowIncrease"},
	{ErrPositionSizeExceed, "PositionSizeExceed"},
	{ErrBadNumberOfPosition, "BadNumberOfPosition"},
	{ErrBadExposure, "BadExposure"},
	{ErrBadPositionSize, "BadPositionSize"},
	{ErrTooTinyPosition, "TooTinyPosition"},
	{ErrSizeOutOfRange, "SizeOutOfRange"},
	{ErrReservedValueStillEnough, "ReservedValueStillEnough"},
	{ErrPLPHealthy, "PLPHealthy"},
	{ErrInsufficientLiquidity, "InsufficientLiquidity"},
	{ErrInsufficientFreeCollateral, "InsufficientFreeCollateral"},
	{ErrSubAccountEquityIsUnderMMR, "SubAccountEquityIsUnderMMR"},
	{config.ErrUnauthorizedExecutor, "Unauthorized"},
	{config.ErrUnknownMarket, "UnknownMarket"},
	{oracle.ErrPriceNotFound, "PriceNotFound"},
	{oracle.ErrPriceStale, "PriceStale"},
}

// Kind returns the short name of a known rejection, or "" when err is not
// one of them.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// IsRejection reports whether err is a precondition or solvency failure
// that left the ledger untouched.
func IsRejection(err error) bool {
	return Kind(err) != ""
}
