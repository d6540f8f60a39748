// Package api exposes the exchange over REST and WebSocket: deposits and
// withdrawals, order lifecycle, balance and order reads, and a live event
// stream. Callers identify themselves by account address in the request body;
// signature recovery is out of scope for this layer.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/minseok-dev/swapdesk/pkg/events"
	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
	"github.com/minseok-dev/swapdesk/pkg/exchange/bank"
	"github.com/minseok-dev/swapdesk/pkg/exchange/book"
	"github.com/minseok-dev/swapdesk/pkg/exchange/ledger"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	ledger  *ledger.Ledger
	book    *book.Book
	hub     *events.Hub
	journal *events.Journal // optional, enables /events/recent
	router  *mux.Router
	log     *zap.SugaredLogger
}

// NewServer wires the API routes. journal may be nil.
func NewServer(l *ledger.Ledger, b *book.Book, hub *events.Hub, journal *events.Journal, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		ledger:  l,
		book:    b,
		hub:     hub,
		journal: journal,
		router:  mux.NewRouter(),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Ledger endpoints
	api.HandleFunc("/balances/{asset}/{account}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// Order endpoints
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/fill", s.handleFillOrder).Methods("POST")

	// Event journal
	api.HandleFunc("/events/recent", s.handleRecentEvents).Methods("GET")

	// WebSocket endpoint
	if s.hub != nil {
		s.router.HandleFunc("/ws", s.hub.ServeWS)
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routed handler; useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the WebSocket hub and serves HTTP on addr.
func (s *Server) Start(addr string) error {
	if s.hub != nil {
		go s.hub.Run()
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	assetID, err := parseAsset(vars["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}
	account, err := parseAccount(vars["account"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account", err.Error())
		return
	}

	bal := s.ledger.BalanceOf(assetID, account)
	respondJSON(w, BalanceResponse{
		Asset:   vars["asset"],
		Account: account.Hex(),
		Balance: bal.Dec(),
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if req.Asset == "" || req.Asset == "native" {
		err = s.ledger.DepositNative(account, amount)
	} else {
		var assetID asset.ID
		assetID, err = parseAsset(req.Asset)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
			return
		}
		err = s.ledger.DepositToken(account, assetID, amount)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if req.Asset == "" || req.Asset == "native" {
		err = s.ledger.WithdrawNative(account, amount)
	} else {
		var assetID asset.ID
		assetID, err = parseAsset(req.Asset)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
			return
		}
		err = s.ledger.WithdrawToken(account, assetID, amount)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	account, err := parseAccount(req.Account)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account", err.Error())
		return
	}
	sellAsset, err := parseAsset(req.SellAsset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell asset", err.Error())
		return
	}
	buyAsset, err := parseAsset(req.BuyAsset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buy asset", err.Error())
		return
	}
	sellAmount, err := asset.ParseAmount(req.SellAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell amount", err.Error())
		return
	}
	buyAmount, err := asset.ParseAmount(req.BuyAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buy amount", err.Error())
		return
	}

	id, err := s.book.CreateOrder(account, sellAsset, sellAmount, buyAsset, buyAmount)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, CreateOrderResponse{OrderID: id})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []book.Order
	if r.URL.Query().Get("status") == "open" {
		orders = s.book.ListOpenOrders()
	} else {
		orders = s.book.ListOrders()
	}

	response := make([]OrderResponse, len(orders))
	for i, o := range orders {
		response[i] = orderResponse(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, err := s.book.GetOrder(id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, orderResponse(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.book.CancelOrder)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	s.handleOrderAction(w, r, s.book.FillOrder)
}

func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, action func(common.Address, uint64) error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account", err.Error())
		return
	}

	if err := action(account, id); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotFound, "event journal disabled", "")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	raws, err := s.journal.Recent(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}

	out := make([]json.RawMessage, len(raws))
	for i, raw := range raws {
		out[i] = raw
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func orderResponse(o book.Order) OrderResponse {
	return OrderResponse{
		ID:         o.ID,
		Timestamp:  o.Timestamp,
		Status:     o.Status.String(),
		Account:    o.Account.Hex(),
		SellAsset:  formatAsset(o.SellAsset),
		SellAmount: o.SellAmount.Dec(),
		BuyAsset:   formatAsset(o.BuyAsset),
		BuyAmount:  o.BuyAmount.Dec(),
	}
}

func formatAsset(id asset.ID) string {
	if asset.IsNative(id) {
		return "native"
	}
	return id.Hex()
}

func parseAsset(s string) (asset.ID, error) {
	if s == "native" {
		return asset.Native, nil
	}
	if !common.IsHexAddress(s) {
		return asset.ID{}, errors.New("asset must be \"native\" or a hex address")
	}
	return common.HexToAddress(s), nil
}

func parseAccount(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("account must be a hex address")
	}
	return common.HexToAddress(s), nil
}

func parseAccountAmount(accountStr, amountStr string) (common.Address, *uint256.Int, error) {
	account, err := parseAccount(accountStr)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := asset.ParseAmount(amountStr)
	if err != nil {
		return common.Address{}, nil, err
	}
	return account, amount, nil
}

// respondDomainError maps core errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, book.ErrOrderUnknown):
		respondError(w, http.StatusNotFound, "order unknown", err.Error())
	case errors.Is(err, book.ErrNotOwner):
		respondError(w, http.StatusForbidden, "not owner", err.Error())
	case errors.Is(err, book.ErrAssetsIdentical):
		respondError(w, http.StatusBadRequest, "assets identical", err.Error())
	case errors.Is(err, book.ErrOrderNotCancellable),
		errors.Is(err, book.ErrOrderNotFillable):
		respondError(w, http.StatusConflict, "order not open", err.Error())
	case errors.Is(err, book.ErrInsufficientFundsForBuyer),
		errors.Is(err, book.ErrInsufficientFundsForSeller),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, bank.ErrInsufficientExternalBalance),
		errors.Is(err, bank.ErrInsufficientAllowance):
		respondError(w, http.StatusUnprocessableEntity, "insufficient funds", err.Error())
	default:
		respondError(w, http.StatusBadRequest, "request rejected", err.Error())
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Detail: detail})
}
