package order

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/contact"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/message"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/product"
	"github.com/neveko-market/nevekod/internal/proof"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
)

const customerDest = "customer00000000000000000000000000000000000000000000.b32.i2p"

// fakeWallet serves wallet RPC with an adjustable escrow balance.
type fakeWallet struct {
	balance atomic.Uint64
	srv     *httptest.Server
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	f := &fakeWallet{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var result interface{}
		switch req.Method {
		case "create_address":
			result = map[string]interface{}{"address": "escrow-sub", "address_index": 2}
		case "validate_address":
			result = map[string]interface{}{"valid": true}
		case "get_balance":
			result = map[string]interface{}{
				"balance":          f.balance.Load(),
				"unlocked_balance": f.balance.Load(),
				"blocks_to_unlock": 0,
			}
		case "import_multisig_info":
			result = map[string]interface{}{"n_outputs": 1}
		case "sign_multisig":
			result = map[string]interface{}{"tx_data_hex": "signedhex"}
		case "submit_multisig":
			result = map[string]interface{}{"tx_hash_list": []string{"txhash1"}}
		case "describe_transfer":
			result = map[string]interface{}{
				"desc": []map[string]interface{}{
					{"amount_out": f.balance.Load(), "fee": 0, "unlock_time": 0},
				},
			}
		default:
			result = map[string]interface{}{}
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": raw})
	}))
	t.Cleanup(f.srv.Close)
	return f
}

type harness struct {
	orders   *Service
	products *product.Service
	db       *storage.DB
	wallet   *fakeWallet
	keys     *neveko25519.KeyPair
	custKeys *neveko25519.KeyPair
}

func setupHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir(), Name: "test-lmdb"})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fw := newFakeWallet(t)
	w := wallet.NewClient(&wallet.Config{RPCURL: fw.srv.URL, DaemonURL: fw.srv.URL})

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	transport, err := i2p.NewClient(cfg.I2P)
	if err != nil {
		t.Fatalf("i2p: %v", err)
	}

	keys, _ := neveko25519.GenerateKeyPair()
	custKeys, _ := neveko25519.GenerateKeyPair()

	contacts := contact.NewService(db, w, transport, keys, cfg)
	if _, err := contacts.Create(context.Background(), &models.Contact{
		I2PAddress: customerDest,
		XMRAddress: "4cust",
		NMPK:       custKeys.PublicHex(),
	}); err != nil {
		t.Fatalf("contact create: %v", err)
	}

	proofs, err := proof.NewService(db, w, transport, cfg)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	messages := message.NewService(db, contacts, proofs, transport, keys, w)
	products := product.NewService(db)

	orders := NewService(db, w, products, contacts, messages, transport, cfg)
	products.SetInUseCheck(orders.HasOpenOrdersFor)

	return &harness{
		orders:   orders,
		products: products,
		db:       db,
		wallet:   fw,
		keys:     keys,
		custKeys: custKeys,
	}
}

// createOrder seeds a product (price 100) and an order for quantity 2.
func (h *harness) createOrder(t *testing.T) models.Order {
	t.Helper()
	p, err := h.products.Create(models.Product{
		Name:  "widget",
		Price: big.NewInt(100),
		Qty:   10,
	})
	if err != nil {
		t.Fatalf("product create: %v", err)
	}
	o, err := h.orders.Create(context.Background(), models.OrderRequest{
		CID:      customerDest,
		PID:      p.PID,
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("order create: %v", err)
	}
	return o
}

func TestCreateOrderInitialState(t *testing.T) {
	h := setupHarness(t)
	o := h.createOrder(t)

	if o.Status != models.StatusMultisigMissing {
		t.Errorf("status = %q, want %q", o.Status, models.StatusMultisigMissing)
	}
	if o.Subaddress != "escrow-sub" {
		t.Errorf("funding subaddress not set: %q", o.Subaddress)
	}

	found, err := h.orders.Find(o.OrID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found.OrID != o.OrID {
		t.Error("persisted order mismatch")
	}

	ids, _ := h.db.IndexMembers(models.OrderListDBKey)
	if len(ids) != 1 || ids[0] != o.OrID {
		t.Errorf("order index = %v", ids)
	}
}

func TestValidateOrderForShipFundingBoundary(t *testing.T) {
	h := setupHarness(t)
	o := h.createOrder(t)

	// stage the customer's export info
	key := message.MsigKey(models.ExportMsig, o.OrID, customerDest)
	if err := h.db.Put(key, []byte("export-blob")); err != nil {
		t.Fatalf("put export info: %v", err)
	}

	// one atomic unit short: rejected
	h.wallet.balance.Store(199)
	funded, err := h.orders.ValidateOrderForShip(context.Background(), o.OrID)
	if err != nil {
		t.Fatalf("ValidateOrderForShip() error = %v", err)
	}
	if funded {
		t.Error("order accepted while underfunded")
	}
	after, _ := h.orders.Find(o.OrID)
	if after.Status != models.StatusMultisigMissing {
		t.Errorf("status mutated on underfunded check: %q", after.Status)
	}

	// exactly price x quantity: accepted
	h.wallet.balance.Store(200)
	funded, err = h.orders.ValidateOrderForShip(context.Background(), o.OrID)
	if err != nil {
		t.Fatalf("ValidateOrderForShip() error = %v", err)
	}
	if !funded {
		t.Error("order rejected at exact funding")
	}
	after, _ = h.orders.Find(o.OrID)
	if after.Status != models.StatusMulitsigComplete {
		t.Errorf("status = %q, want %q", after.Status, models.StatusMulitsigComplete)
	}
}

func TestPersistedStatusSpelling(t *testing.T) {
	// the misspelled on-disk status value is deliberate
	if models.StatusMulitsigComplete != "MulitsigComplete" {
		t.Fatalf("persisted status spelling changed: %q", models.StatusMulitsigComplete)
	}
}

func TestShipAndFinalize(t *testing.T) {
	h := setupHarness(t)
	o := h.createOrder(t)

	key := message.MsigKey(models.ExportMsig, o.OrID, customerDest)
	h.db.Put(key, []byte("export-blob"))
	h.wallet.balance.Store(200)
	if _, err := h.orders.ValidateOrderForShip(context.Background(), o.OrID); err != nil {
		t.Fatalf("ValidateOrderForShip() error = %v", err)
	}

	if err := h.orders.UploadDeliveryInfo(context.Background(), h.keys, o.OrID, []byte("tracking 123")); err != nil {
		t.Fatalf("UploadDeliveryInfo() error = %v", err)
	}
	shipped, _ := h.orders.Find(o.OrID)
	if shipped.Status != models.StatusShipped {
		t.Errorf("status = %q, want %q", shipped.Status, models.StatusShipped)
	}
	if shipped.ShipDate == 0 {
		t.Error("ship date not set")
	}

	// customer staged the signed txset
	h.db.Put(message.MsigKey(models.TxSetMsig, o.OrID, customerDest), []byte("txset-hex"))

	resp, err := h.orders.FinalizeOrder(context.Background(), o.OrID)
	if err != nil {
		t.Fatalf("FinalizeOrder() error = %v", err)
	}
	if len(resp.DeliveryInfo) == 0 {
		t.Error("delivery info not released")
	}

	delivered, _ := h.orders.Find(o.OrID)
	if delivered.Status != models.StatusDelivered {
		t.Errorf("status = %q, want %q", delivered.Status, models.StatusDelivered)
	}
	if delivered.Hash != "txhash1" {
		t.Errorf("final hash = %q", delivered.Hash)
	}

	// delivery info round-trips through the customer's key
	plaintext, err := h.custKeys.Cipher(h.keys.PublicHex(), string(resp.DeliveryInfo), neveko25519.Decipher)
	if err != nil {
		t.Fatalf("decipher delivery info: %v", err)
	}
	if plaintext != "tracking 123" {
		t.Errorf("delivery info = %q", plaintext)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	h := setupHarness(t)
	o := h.createOrder(t)

	cancelled, err := h.orders.Cancel(o.OrID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Errorf("status = %q", cancelled.Status)
	}
	if h.orders.HasOpenOrdersFor(o.PID) {
		t.Error("cancelled order still counts as open")
	}
}

func TestProductLockedWhileOrderOpen(t *testing.T) {
	h := setupHarness(t)
	o := h.createOrder(t)

	p, _ := h.products.Find(o.PID)
	p.Name = "renamed"
	if _, err := h.products.Modify(p); err != product.ErrInUse {
		t.Errorf("expected ErrInUse while order open, got %v", err)
	}

	h.orders.Cancel(o.OrID)
	if _, err := h.products.Modify(p); err != nil {
		t.Errorf("modify after terminal order: %v", err)
	}
}

func TestBackupIndexesCustomerOrder(t *testing.T) {
	h := setupHarness(t)
	o := h.createOrder(t)

	if err := h.orders.Backup(o); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	saved, err := h.orders.FindAllBackup()
	if err != nil || len(saved) != 1 {
		t.Fatalf("FindAllBackup() = %v, %v", saved, err)
	}
}
