package contact

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
)

// fakeWalletRPC reports address validity per the valid flag.
func fakeWalletRPC(t *testing.T, valid bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		var result interface{}
		switch req.Method {
		case "validate_address":
			result = map[string]interface{}{"valid": valid}
		case "get_address":
			result = map[string]interface{}{"address": "primary"}
		default:
			result = map[string]interface{}{}
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": raw})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupService(t *testing.T, addressValid bool) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir(), Name: "test-lmdb"})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rpc := fakeWalletRPC(t, addressValid)
	w := wallet.NewClient(&wallet.Config{RPCURL: rpc.URL, DaemonURL: rpc.URL})

	cfg := config.DefaultConfig()
	cfg.I2P.Destination = "self0000000000000000000000000000000000000000000000000.b32.i2p"
	transport, err := i2p.NewClient(cfg.I2P)
	if err != nil {
		t.Fatalf("i2p: %v", err)
	}
	keys, _ := neveko25519.GenerateKeyPair()
	return NewService(db, w, transport, keys, cfg), db
}

func validContact() *models.Contact {
	return &models.Contact{
		I2PAddress: "peer0000000000000000000000000000000000000000000000000.b32.i2p",
		XMRAddress: "4peer",
		NMPK:       strings.Repeat("ab", 32),
	}
}

func TestCreateAndFind(t *testing.T) {
	s, db := setupService(t, true)

	created, err := s.Create(context.Background(), validContact())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(created.CID, models.ContactDBKey) {
		t.Errorf("cid = %q", created.CID)
	}

	found, err := s.Find(created.CID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found.I2PAddress != created.I2PAddress {
		t.Error("persisted contact mismatch")
	}

	ids, _ := db.IndexMembers(models.ContactListDBKey)
	if len(ids) != 1 {
		t.Errorf("contact index = %v", ids)
	}
}

func TestCreateRejectsBadSuffix(t *testing.T) {
	s, _ := setupService(t, true)

	c := validContact()
	c.I2PAddress = "peer.onion"
	if _, err := s.Create(context.Background(), c); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for bad suffix, got %v", err)
	}
}

func TestCreateRejectsOversizedNMPK(t *testing.T) {
	s, _ := setupService(t, true)

	c := validContact()
	c.NMPK = strings.Repeat("a", models.NMPKLimit+1)
	if _, err := s.Create(context.Background(), c); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for oversized nmpk, got %v", err)
	}
}

func TestCreateRejectsInvalidXMRAddress(t *testing.T) {
	s, _ := setupService(t, false)

	if _, err := s.Create(context.Background(), validContact()); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for bad xmr address, got %v", err)
	}
}

func TestCreateRejectsDuplicateAddress(t *testing.T) {
	s, _ := setupService(t, true)

	if _, err := s.Create(context.Background(), validContact()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.Create(context.Background(), validContact()); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for duplicate, got %v", err)
	}
}

func TestExists(t *testing.T) {
	s, _ := setupService(t, true)

	c := validContact()
	if s.Exists(c.I2PAddress) {
		t.Error("contact should not exist yet")
	}
	s.Create(context.Background(), c)
	if !s.Exists(c.I2PAddress) {
		t.Error("contact should exist after create")
	}
}

func TestShareOmitsCID(t *testing.T) {
	s, db := setupService(t, true)
	db.Put(models.VendorEnabledKey, []byte(models.VendorModeOn))

	shared, err := s.Share(context.Background())
	if err != nil {
		t.Fatalf("Share() error = %v", err)
	}
	if shared.CID != "" {
		t.Error("share must omit the primary key")
	}
	if !shared.IsVendor {
		t.Error("vendor mode toggle not honored")
	}
	if len(shared.NMPK) != 64 {
		t.Errorf("nmpk length = %d", len(shared.NMPK))
	}
}
