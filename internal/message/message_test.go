package message

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/contact"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/proof"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
)

const localDest = "local000000000000000000000000000000000000000000000000.b32.i2p"
const peerDest = "peer0000000000000000000000000000000000000000000000000.b32.i2p"

// fakeWalletRPC accepts every wallet call a test path needs.
func fakeWalletRPC(t *testing.T) *httptest.Server {
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
			result = map[string]interface{}{"valid": true}
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

// harness wires a message service with one known peer contact.
type harness struct {
	svc      *Service
	db       *storage.DB
	peerKeys *neveko25519.KeyPair
	ownKeys  *neveko25519.KeyPair
}

func setupHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.New(&storage.Config{DataDir: t.TempDir(), Name: "test-lmdb"})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	rpc := fakeWalletRPC(t)
	w := wallet.NewClient(&wallet.Config{RPCURL: rpc.URL, DaemonURL: rpc.URL})

	cfg := config.DefaultConfig()
	cfg.I2P.Destination = localDest
	transport, err := i2p.NewClient(cfg.I2P)
	if err != nil {
		t.Fatalf("i2p: %v", err)
	}

	ownKeys, _ := neveko25519.GenerateKeyPair()
	peerKeys, _ := neveko25519.GenerateKeyPair()

	contacts := contact.NewService(db, w, transport, ownKeys, cfg)
	if _, err := contacts.Create(context.Background(), &models.Contact{
		I2PAddress: peerDest,
		XMRAddress: "4xmr",
		NMPK:       peerKeys.PublicHex(),
	}); err != nil {
		t.Fatalf("contact create: %v", err)
	}

	proofs, err := proof.NewService(db, w, transport, cfg)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}

	return &harness{
		svc:      NewService(db, contacts, proofs, transport, ownKeys, w),
		db:       db,
		peerKeys: peerKeys,
		ownKeys:  ownKeys,
	}
}

func TestRxStoresAndIndexes(t *testing.T) {
	h := setupHarness(t)

	m := models.Message{
		From: peerDest,
		To:   localDest,
		Body: "ciphertext",
	}
	if err := h.svc.Rx(m); err != nil {
		t.Fatalf("Rx() error = %v", err)
	}

	ids, err := h.db.IndexMembers(models.RxMessageDBKey)
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected 1 received message, got %v (%v)", ids, err)
	}
	stored, err := h.svc.Find(ids[0])
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if stored.UID != models.RxMessageDBKey || stored.Body != "ciphertext" {
		t.Errorf("unexpected stored message: %+v", stored)
	}
}

func TestRxRejectsUnknownSender(t *testing.T) {
	h := setupHarness(t)

	m := models.Message{
		From: "stranger00000000000000000000000000000000000000000000.b32.i2p",
		To:   localDest,
		Body: "x",
	}
	if err := h.svc.Rx(m); err != ErrUnknownPeer {
		t.Errorf("expected ErrUnknownPeer, got %v", err)
	}
}

func TestRxRejectsWrongDestination(t *testing.T) {
	h := setupHarness(t)

	m := models.Message{
		From: peerDest,
		To:   "elsewhere000000000000000000000000000000000000000000.b32.i2p",
		Body: "x",
	}
	if err := h.svc.Rx(m); err != ErrInvalid {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestRxBodyLengthBoundary(t *testing.T) {
	h := setupHarness(t)

	// at the limit: rejected
	m := models.Message{
		From: peerDest,
		To:   localDest,
		Body: strings.Repeat("a", models.MessageLimit),
	}
	if err := h.svc.Rx(m); err != ErrInvalid {
		t.Errorf("expected ErrInvalid at MessageLimit, got %v", err)
	}

	// one under the limit: accepted
	m.Body = strings.Repeat("a", models.MessageLimit-1)
	if err := h.svc.Rx(m); err != nil {
		t.Errorf("expected acceptance at MessageLimit-1, got %v", err)
	}
}

func TestRxMultisigParsesAndIndexes(t *testing.T) {
	h := setupHarness(t)

	// peer enciphers against our nmpk
	body, err := h.peerKeys.Cipher(h.ownKeys.PublicHex(), "prepare:o123:multisig-blob", neveko25519.Encipher)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	m := models.Message{From: peerDest, To: localDest, Body: body}
	if err := h.svc.RxMultisig(m); err != nil {
		t.Fatalf("RxMultisig() error = %v", err)
	}

	info, err := h.svc.MsigInfo(models.PrepareMsig, "o123", peerDest)
	if err != nil {
		t.Fatalf("MsigInfo() error = %v", err)
	}
	if len(info) != 1 || info[0] != "multisig-blob" {
		t.Errorf("unexpected msig info: %v", info)
	}

	ids, _ := h.db.IndexMembers(models.MsigMessageListDBKey)
	if len(ids) != 1 || !strings.HasPrefix(ids[0], models.MsigMessageDBKey) {
		t.Errorf("unexpected msig index: %v", ids)
	}
}

func TestRxMultisigOverwriteIsIdempotent(t *testing.T) {
	h := setupHarness(t)

	for _, blob := range []string{"first", "second"} {
		body, _ := h.peerKeys.Cipher(h.ownKeys.PublicHex(), "kexone:o9:"+blob, neveko25519.Encipher)
		if err := h.svc.RxMultisig(models.Message{From: peerDest, To: localDest, Body: body}); err != nil {
			t.Fatalf("RxMultisig() error = %v", err)
		}
	}
	info, err := h.svc.MsigInfo(models.KexOneMsig, "o9", peerDest)
	if err != nil {
		t.Fatalf("MsigInfo() error = %v", err)
	}
	if info[0] != "second" {
		t.Errorf("re-receipt did not overwrite: %v", info)
	}
}

func TestParseMultisigBody(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantSub  string
		wantInfo string
		wantErr  bool
	}{
		{"three segments", "prepare:o1:abc", "prepare", "abc", false},
		{"four segments", "make:o1:abc:def", "make", "abc:def", false},
		{"two segments", "prepare:o1", "", "", true},
		{"five segments", "make:o1:a:b:c", "", "", true},
		{"unknown sub type", "steal:o1:abc", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := parseMultisigBody(tt.body)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.body)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMultisigBody(%q) error = %v", tt.body, err)
			}
			if data.subType != tt.wantSub || data.info != tt.wantInfo {
				t.Errorf("parsed %+v", data)
			}
		})
	}
}

func TestMessageTypeFromID(t *testing.T) {
	if messageType("m"+strings.Repeat("0", 64)) != Normal {
		t.Error("plain id classified as multisig")
	}
	if messageType("msig"+strings.Repeat("0", 64)) != Multisig {
		t.Error("msig id classified as normal")
	}
}

func TestDecipherBodyRoundTrip(t *testing.T) {
	h := setupHarness(t)

	plaintext := "meet me at the usual place"
	body, _ := h.peerKeys.Cipher(h.ownKeys.PublicHex(), plaintext, neveko25519.Encipher)
	if err := h.svc.Rx(models.Message{From: peerDest, To: localDest, Body: body}); err != nil {
		t.Fatalf("Rx() error = %v", err)
	}
	ids, _ := h.db.IndexMembers(models.RxMessageDBKey)
	deciphered, err := h.svc.DecipherBody(ids[0])
	if err != nil {
		t.Fatalf("DecipherBody() error = %v", err)
	}
	if deciphered.Body != plaintext {
		t.Errorf("deciphered %q, want %q", deciphered.Body, plaintext)
	}
}

func TestFtsStagingIdempotent(t *testing.T) {
	h := setupHarness(t)

	// sendToRetry stages the id and never duplicates it
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.sendToRetry(ctx, "m-abc")
	h.svc.sendToRetry(ctx, "m-abc")

	members, err := h.db.IndexMembers(models.FtsDBKey)
	if err != nil {
		t.Fatalf("IndexMembers() error = %v", err)
	}
	if len(members) != 1 {
		t.Errorf("expected 1 staged id, got %v", members)
	}
	if !h.svc.RetryRunning() {
		t.Error("retry task should be running after staging")
	}
}

func TestClearFts(t *testing.T) {
	h := setupHarness(t)

	h.db.IndexAppend(models.FtsDBKey, "m-1")
	if err := h.svc.ClearFts(); err != nil {
		t.Fatalf("ClearFts() error = %v", err)
	}
	clear, _ := h.db.IndexIsClear(models.FtsDBKey)
	if !clear {
		t.Error("fts should be clear after ClearFts")
	}
	// clearing an absent queue is a no-op
	if err := h.svc.ClearFts(); err != nil {
		t.Errorf("ClearFts() on empty queue error = %v", err)
	}
}
