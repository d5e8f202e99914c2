package dispute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/proof"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
)

// fakeWalletRPC signs and submits every txset successfully.
func fakeWalletRPC(t *testing.T, txHashes []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var result interface{}
		switch req.Method {
		case "sign_multisig":
			result = map[string]interface{}{"tx_data_hex": "signed"}
		case "submit_multisig":
			result = map[string]interface{}{"tx_hash_list": txHashes}
		default:
			result = map[string]interface{}{}
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": raw})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupService(t *testing.T, txHashes []string) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir(), Name: "test-lmdb"})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rpc := fakeWalletRPC(t, txHashes)
	w := wallet.NewClient(&wallet.Config{RPCURL: rpc.URL, DaemonURL: rpc.URL})

	cfg := config.DefaultConfig()
	transport, err := i2p.NewClient(cfg.I2P)
	if err != nil {
		t.Fatalf("i2p: %v", err)
	}
	proofs, err := proof.NewService(db, w, transport, cfg)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	return NewService(db, w, proofs, transport), db
}

func TestCreateStagesAndStartsScheduler(t *testing.T) {
	s, db := setupService(t, []string{"tx1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := s.Create(ctx, models.Dispute{OrID: "o1", TxSet: "unsigned-hex"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if d.Created == 0 {
		t.Error("created timestamp not set")
	}

	members, _ := db.IndexMembers(models.DisputeListDBKey)
	if len(members) != 1 || members[0] != d.DID {
		t.Errorf("dispute index = %v", members)
	}
	if !s.SettleRunning() {
		t.Error("auto-settle scheduler should be running")
	}
}

func TestSettleSignsAndSubmits(t *testing.T) {
	s, _ := setupService(t, []string{"tx1"})

	d := &models.Dispute{DID: "d1", OrID: "o1", TxSet: "unsigned-hex"}
	if err := s.settle(context.Background(), d); err != nil {
		t.Errorf("settle() error = %v", err)
	}
	if s.wallet.IsBusy() {
		t.Error("wallet left open after settle")
	}
}

func TestSettleFailsOnEmptyHashList(t *testing.T) {
	s, _ := setupService(t, []string{})

	d := &models.Dispute{DID: "d1", OrID: "o1", TxSet: "unsigned-hex"}
	if err := s.settle(context.Background(), d); err != ErrSettle {
		t.Errorf("expected ErrSettle, got %v", err)
	}
	if s.wallet.IsBusy() {
		t.Error("wallet left open after failed settle")
	}
}

func TestDueDisputeSettlesOnTick(t *testing.T) {
	s, db := setupService(t, []string{"tx1"})

	// stage a dispute past its grace period
	did := models.DisputeDBKey + "test"
	d := models.Dispute{
		DID:     did,
		Created: time.Now().Add(-config.DisputeAutoSettle).Unix(),
		OrID:    "o1",
		TxSet:   "unsigned-hex",
	}
	storage.PutJSON(db, did, d)
	db.IndexAppend(models.DisputeListDBKey, did)

	// run one settle pass by hand
	now := time.Now().Unix()
	settleDate := d.Created + int64(config.DisputeAutoSettle/time.Second)
	if now < settleDate {
		t.Fatal("test dispute should be due")
	}
	if err := s.settle(context.Background(), &d); err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if err := db.IndexRemove(models.DisputeListDBKey, did); err != nil {
		t.Fatalf("IndexRemove() error = %v", err)
	}

	clear, _ := db.IndexIsClear(models.DisputeListDBKey)
	if !clear {
		t.Error("index should be clear after the only dispute settles")
	}
}

func TestNotDueDisputeWaits(t *testing.T) {
	_, db := setupService(t, []string{"tx1"})

	did := models.DisputeDBKey + "fresh"
	d := models.Dispute{
		DID:     did,
		Created: time.Now().Unix(),
		OrID:    "o1",
		TxSet:   "unsigned-hex",
	}
	storage.PutJSON(db, did, d)
	db.IndexAppend(models.DisputeListDBKey, did)

	now := time.Now().Unix()
	settleDate := d.Created + int64(config.DisputeAutoSettle/time.Second)
	if now >= settleDate {
		t.Error("fresh dispute must not be due")
	}
}

func TestFindAndDelete(t *testing.T) {
	s, _ := setupService(t, []string{"tx1"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, _ := s.Create(ctx, models.Dispute{OrID: "o2", TxSet: "hex"})
	found, err := s.Find(d.DID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found.OrID != "o2" {
		t.Errorf("found %+v", found)
	}

	if err := s.Delete(d.DID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Find(d.DID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
