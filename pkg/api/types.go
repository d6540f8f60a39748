package api

// API request/response types for REST endpoints. Amounts are base-10 strings
// since 256-bit values don't fit JSON numbers.

// BalanceResponse reports one custody balance entry.
type BalanceResponse struct {
	Asset   string `json:"asset"` // "native" or token address
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// DepositRequest funds custody from the caller's external wallet.
// Asset is empty for native deposits.
type DepositRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount"`
}

// WithdrawRequest releases custody back to the caller's external wallet.
type WithdrawRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount"`
}

// CreateOrderRequest posts a swap offer against custodied balances.
type CreateOrderRequest struct {
	Account    string `json:"account"`
	SellAsset  string `json:"sellAsset"`
	SellAmount string `json:"sellAmount"`
	BuyAsset   string `json:"buyAsset"`
	BuyAmount  string `json:"buyAmount"`
}

// OrderActionRequest cancels or fills an existing order.
type OrderActionRequest struct {
	Account string `json:"account"`
}

// OrderResponse mirrors a stored order.
type OrderResponse struct {
	ID         uint64 `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	Status     string `json:"status"`
	Account    string `json:"account"`
	SellAsset  string `json:"sellAsset"`
	SellAmount string `json:"sellAmount"`
	BuyAsset   string `json:"buyAsset"`
	BuyAmount  string `json:"buyAmount"`
}

// CreateOrderResponse returns the id assigned to a new order.
type CreateOrderResponse struct {
	OrderID uint64 `json:"orderId"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
