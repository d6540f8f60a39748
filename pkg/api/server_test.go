package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
	"github.com/minseok-dev/swapdesk/pkg/exchange/bank"
	"github.com/minseok-dev/swapdesk/pkg/exchange/book"
	"github.com/minseok-dev/swapdesk/pkg/exchange/ledger"
)

var (
	user1      = common.HexToAddress("0x1100000000000000000000000000000000000000")
	user2      = common.HexToAddress("0x2200000000000000000000000000000000000000")
	feeAccount = common.HexToAddress("0x00000000000000000000000000000000000Fee00")
	custody    = common.HexToAddress("0x000000000000000000000000000000000E5C0000")
	token      = common.HexToAddress("0x7000000000000000000000000000000000000001")
)

// newTestServer wires a full stack with funded wallets: user1 holds 1100
// token (approved for custody), user2 holds 1 native.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	wallets := bank.New(nil)
	wallets.Mint(asset.Native, user2, uint256.NewInt(1))
	wallets.Mint(token, user1, uint256.NewInt(1100))
	wallets.Approve(token, user1, custody, uint256.NewInt(1100))

	l, err := ledger.New(t.TempDir(), wallets, custody, nil, nil)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	b, err := book.New(t.TempDir(), l, feeAccount, 10, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to create book: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	srv := httptest.NewServer(NewServer(l, b, nil, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return out
}

func getBalance(t *testing.T, base, assetStr string, account common.Address) string {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/balances/%s/%s", base, assetStr, account.Hex()))
	if err != nil {
		t.Fatalf("GET balance failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET balance status = %d", resp.StatusCode)
	}
	return decode[BalanceResponse](t, resp).Balance
}

// TestTradeRoundTrip drives the full flow over HTTP: deposits, order
// creation, fill, and the resulting balances with a 10 percent fee.
func TestTradeRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/deposits", DepositRequest{
		Account: user2.Hex(), Amount: "1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("native deposit status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/deposits", DepositRequest{
		Account: user1.Hex(), Asset: token.Hex(), Amount: "1100",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token deposit status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/orders", CreateOrderRequest{
		Account:    user2.Hex(),
		SellAsset:  "native",
		SellAmount: "1",
		BuyAsset:   token.Hex(),
		BuyAmount:  "1000",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create order status = %d", resp.StatusCode)
	}
	created := decode[CreateOrderResponse](t, resp)
	if created.OrderID != 1 {
		t.Errorf("order id = %d, want 1", created.OrderID)
	}

	resp = postJSON(t, fmt.Sprintf("%s/api/v1/orders/%d/fill", srv.URL, created.OrderID),
		OrderActionRequest{Account: user1.Hex()})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fill status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	if got := getBalance(t, srv.URL, "native", user1); got != "1" {
		t.Errorf("user1 native = %s, want 1", got)
	}
	if got := getBalance(t, srv.URL, token.Hex(), user2); got != "1000" {
		t.Errorf("user2 token = %s, want 1000", got)
	}
	if got := getBalance(t, srv.URL, token.Hex(), feeAccount); got != "100" {
		t.Errorf("fee collector token = %s, want 100", got)
	}

	httpResp, err := http.Get(fmt.Sprintf("%s/api/v1/orders/%d", srv.URL, created.OrderID))
	if err != nil {
		t.Fatalf("GET order failed: %v", err)
	}
	order := decode[OrderResponse](t, httpResp)
	if order.Status != "filled" {
		t.Errorf("order status = %s, want filled", order.Status)
	}
	if order.SellAsset != "native" || order.SellAmount != "1" {
		t.Errorf("sell side = %s/%s, want native/1", order.SellAsset, order.SellAmount)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	// Unknown order -> 404
	resp, err := http.Get(srv.URL + "/api/v1/orders/42")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown order status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Identical assets -> 400
	resp = postJSON(t, srv.URL+"/api/v1/orders", CreateOrderRequest{
		Account: user1.Hex(), SellAsset: token.Hex(), SellAmount: "1",
		BuyAsset: token.Hex(), BuyAmount: "2",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("identical assets status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Create an order, then cancel as the wrong account -> 403
	resp = postJSON(t, srv.URL+"/api/v1/orders", CreateOrderRequest{
		Account: user2.Hex(), SellAsset: "native", SellAmount: "1",
		BuyAsset: token.Hex(), BuyAmount: "1000",
	})
	created := decode[CreateOrderResponse](t, resp)

	resp = postJSON(t, fmt.Sprintf("%s/api/v1/orders/%d/cancel", srv.URL, created.OrderID),
		OrderActionRequest{Account: user1.Hex()})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign cancel status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Fill without custody funds -> 422
	resp = postJSON(t, fmt.Sprintf("%s/api/v1/orders/%d/fill", srv.URL, created.OrderID),
		OrderActionRequest{Account: user1.Hex()})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("underfunded fill status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()

	// Withdraw more than deposited -> 422
	resp = postJSON(t, srv.URL+"/api/v1/withdrawals", WithdrawRequest{
		Account: user2.Hex(), Amount: "5",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("over-withdraw status = %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()

	// Malformed account -> 400
	resp = postJSON(t, srv.URL+"/api/v1/deposits", DepositRequest{
		Account: "not-an-address", Amount: "5",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad account status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListOpenOrdersFilter(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/api/v1/orders", CreateOrderRequest{
		Account: user1.Hex(), SellAsset: token.Hex(), SellAmount: "10",
		BuyAsset: "native", BuyAmount: "1",
	}).Body.Close()
	resp := postJSON(t, srv.URL+"/api/v1/orders", CreateOrderRequest{
		Account: user1.Hex(), SellAsset: token.Hex(), SellAmount: "20",
		BuyAsset: "native", BuyAmount: "2",
	})
	created := decode[CreateOrderResponse](t, resp)
	postJSON(t, fmt.Sprintf("%s/api/v1/orders/%d/cancel", srv.URL, created.OrderID),
		OrderActionRequest{Account: user1.Hex()}).Body.Close()

	httpResp, err := http.Get(srv.URL + "/api/v1/orders?status=open")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	open := decode[[]OrderResponse](t, httpResp)
	if len(open) != 1 {
		t.Fatalf("open orders = %d, want 1", len(open))
	}
	if open[0].ID == created.OrderID {
		t.Errorf("cancelled order listed as open")
	}

	httpResp, err = http.Get(srv.URL + "/api/v1/orders")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	all := decode[[]OrderResponse](t, httpResp)
	if len(all) != 2 {
		t.Errorf("total orders = %d, want 2", len(all))
	}
}
