package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeRPC serves JSON-RPC 2.0 with per-method results.
func fakeRPC(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad rpc request: %v", err)
		}
		result, ok := results[req.Method]
		if !ok {
			result = map[string]interface{}{}
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, results map[string]interface{}) *Client {
	srv := fakeRPC(t, results)
	return NewClient(&Config{RPCURL: srv.URL, DaemonURL: srv.URL})
}

func TestOpenWalletBusyFlag(t *testing.T) {
	c := testClient(t, nil)

	if c.IsBusy() {
		t.Fatal("fresh client should not be busy")
	}
	if !c.OpenWallet(context.Background(), "neveko", "password") {
		t.Fatal("first open should succeed")
	}
	if !c.IsBusy() {
		t.Error("client should be busy after open")
	}

	// a second open while busy fails fast without clearing the flag
	if c.OpenWallet(context.Background(), "other", "") {
		t.Error("second open should fail while busy")
	}
	if !c.IsBusy() {
		t.Error("failed open must not release the permit")
	}

	c.CloseWallet(context.Background(), "neveko", "password")
	if c.IsBusy() {
		t.Error("client should be idle after close")
	}
}

func TestCloseWalletAlwaysReleases(t *testing.T) {
	// server that errors on close_wallet
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method == "close_wallet" {
			json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID,
				Error: &rpcError{Code: -1, Message: "boom"}})
			return
		}
		raw, _ := json.Marshal(map[string]interface{}{})
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
	defer srv.Close()

	c := NewClient(&Config{RPCURL: srv.URL})
	if !c.OpenWallet(context.Background(), "neveko", "password") {
		t.Fatal("open failed")
	}
	if c.CloseWallet(context.Background(), "neveko", "password") {
		t.Error("close should report the daemon error")
	}
	if c.IsBusy() {
		t.Error("permit must be released even when the daemon errors")
	}
}

func TestGetBalanceResult(t *testing.T) {
	c := testClient(t, map[string]interface{}{
		"get_balance": map[string]interface{}{
			"balance":          uint64(200),
			"unlocked_balance": uint64(150),
			"blocks_to_unlock": uint64(3),
		},
	})

	balance, err := c.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance() error = %v", err)
	}
	if balance.Balance != 200 || balance.UnlockedBalance != 150 || balance.BlocksToUnlock != 3 {
		t.Errorf("unexpected balance: %+v", balance)
	}
}

func TestCheckTxProofResult(t *testing.T) {
	c := testClient(t, map[string]interface{}{
		"check_tx_proof": map[string]interface{}{
			"good":          true,
			"confirmations": uint64(719),
			"received":      uint64(1),
		},
	})

	check, err := c.CheckTxProof(context.Background(), "sub", "hash", "", "sig")
	if err != nil {
		t.Fatalf("CheckTxProof() error = %v", err)
	}
	if !check.Good || check.Confirmations != 719 || check.Received != 1 {
		t.Errorf("unexpected check: %+v", check)
	}
}

func TestRPCErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID,
			Error: &rpcError{Code: -13, Message: "No wallet file"}})
	}))
	defer srv.Close()

	c := NewClient(&Config{RPCURL: srv.URL})
	if _, err := c.GetVersion(context.Background()); err == nil {
		t.Error("expected rpc error to surface")
	} else if !strings.Contains(err.Error(), "No wallet file") {
		t.Errorf("error lost daemon message: %v", err)
	}
}

func TestDigestChallengeAnswered(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			w.Header().Set("WWW-Authenticate",
				`Digest qop="auth",algorithm=MD5,realm="monero-rpc",nonce="abc123",stale=false`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sawAuth = auth
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		raw, _ := json.Marshal(Version{Version: 65562})
		json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: raw})
	}))
	defer srv.Close()

	c := NewClient(&Config{RPCURL: srv.URL, Username: "user", Password: "pass"})
	v, err := c.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion() error = %v", err)
	}
	if v.Version != 65562 {
		t.Errorf("unexpected version: %d", v.Version)
	}
	for _, want := range []string{`username="user"`, `realm="monero-rpc"`, `nonce="abc123"`, "qop=auth", "response="} {
		if !strings.Contains(sawAuth, want) {
			t.Errorf("authorization header missing %s: %s", want, sawAuth)
		}
	}
}

func TestParseChallenge(t *testing.T) {
	fields := parseChallenge(`realm="monero-rpc", nonce="x,y", qop="auth", algorithm=MD5`)
	if fields["realm"] != "monero-rpc" {
		t.Errorf("realm = %q", fields["realm"])
	}
	if fields["nonce"] != "x,y" {
		t.Errorf("quoted comma mishandled: nonce = %q", fields["nonce"])
	}
	if fields["algorithm"] != "MD5" {
		t.Errorf("algorithm = %q", fields["algorithm"])
	}
}

func TestParseTxnFee(t *testing.T) {
	fee, ok := parseTxnFee(`{"version":2,"txnFee":30640000,"extra":[1]}`)
	if !ok || fee != 30640000 {
		t.Errorf("parseTxnFee = %d, %v", fee, ok)
	}
	if _, ok := parseTxnFee(`{"version":2}`); ok {
		t.Error("expected no fee in coinbase tx")
	}
}
