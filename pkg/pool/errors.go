package pool

import "errors"

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrNotInitialized            = errors.New("pool not initialized")
	ErrAlreadyInitialized        = errors.New("pool already initialized")
	ErrUnsupportedCollateral     = errors.New("unsupported collateral")
	ErrInactiveCollateral        = errors.New("collateral type inactive")
	ErrPositionAlreadyOpen       = errors.New("position already open")
	ErrNoOpenPosition            = errors.New("no open position")
	ErrInsufficientCollateral    = errors.New("insufficient collateral")
	ErrBorrowExceedsCollateral   = errors.New("borrow exceeds collateral capacity")
	ErrInsufficientPoolLiquidity = errors.New("insufficient pool liquidity")
	ErrPositionHealthy           = errors.New("position is healthy")
	ErrWithdrawalWouldLiquidate  = errors.New("withdrawal would make position liquidatable")
	ErrAgentSessionInvalid       = errors.New("agent session invalid")
	ErrOracleCallFailed          = errors.New("oracle call failed")
	ErrDivisionByZero            = errors.New("division by zero")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrEngineClosed              = errors.New("engine is closed")
)

// 稳定错误码，1-14 与链上合约一致
var errorCodes = []struct {
	err  error
	code uint32
}{
	{ErrNotInitialized, 1},
	{ErrAlreadyInitialized, 2},
	{ErrUnsupportedCollateral, 3},
	{ErrInactiveCollateral, 4},
	{ErrPositionAlreadyOpen, 5},
	{ErrNoOpenPosition, 6},
	{ErrInsufficientCollateral, 7},
	{ErrBorrowExceedsCollateral, 8},
	{ErrInsufficientPoolLiquidity, 9},
	{ErrPositionHealthy, 10},
	{ErrWithdrawalWouldLiquidate, 11},
	{ErrAgentSessionInvalid, 12},
	{ErrOracleCallFailed, 13},
	{ErrDivisionByZero, 14},
	{ErrInsufficientBalance, 15},
	{ErrUnauthorized, 16},
	{ErrInvalidAmount, 17},
	{ErrEngineClosed, 18},
}

// Code 返回错误码，nil 为 0，未知错误为 255
func Code(err error) uint32 {
	if err == nil {
		return 0
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return 255
}
