// Package proof implements external authorization via JWPs: bearer
// tokens backed by an on-chain transaction proof. Setting higher payment
// values and lower confirmation windows works as a spam disincentive.
package proof

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Guard errors. Missing and invalid map to 402 Payment Required; expired
// maps to 401 Unauthorized.
var (
	ErrProofMissing = errors.New("proof: payment proof missing")
	ErrProofInvalid = errors.New("proof: payment proof invalid")
	ErrProofExpired = errors.New("proof: payment proof expired")
)

// Service issues and verifies JWPs.
type Service struct {
	db     *storage.DB
	wallet *wallet.Client
	i2p    *i2p.Client
	cfg    *config.Config
	log    *logging.Logger

	// jwpKey is loaded once at startup; revoke is the only write path.
	jwpKey []byte
}

// NewService loads (or generates) the JWP signing key and returns the
// proof service.
func NewService(db *storage.DB, w *wallet.Client, transport *i2p.Client, cfg *config.Config) (*Service, error) {
	key, err := loadOrCreateKey(db, models.JwpSecretKey)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:     db,
		wallet: w,
		i2p:    transport,
		cfg:    cfg,
		log:    logging.GetDefault().Component("proof"),
		jwpKey: key,
	}, nil
}

func loadOrCreateKey(db *storage.DB, dbKey string) ([]byte, error) {
	raw, err := db.Get(dbKey)
	if err == nil && len(raw) > 0 {
		return raw, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key := []byte(helpers.GenerateRnd())
	if err := db.Put(dbKey, key); err != nil {
		return nil, fmt.Errorf("failed to persist signing key: %w", err)
	}
	return key, nil
}

// CreateInvoice makes a fresh subaddress on the app wallet and returns
// the payment terms.
func (s *Service) CreateInvoice(ctx context.Context) (models.Invoice, error) {
	s.log.Info("creating invoice")
	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return models.Invoice{}, fmt.Errorf("proof: wallet busy")
	}
	created, err := s.wallet.CreateAddress(ctx)
	s.wallet.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		return models.Invoice{}, fmt.Errorf("proof: %w", err)
	}
	return models.Invoice{
		Address:       created.Address,
		PayThreshold:  strconv.FormatUint(s.cfg.PaymentThreshold, 10),
		ConfThreshold: s.cfg.ConfirmationThreshold,
	}, nil
}

// CreateJwp validates a transaction proof and, when it holds up, issues
// an HS512 token embedding the proof.
func (s *Service) CreateJwp(ctx context.Context, txp *models.TxProof) (string, error) {
	s.log.Info("creating jwp")
	validated, err := s.ValidateProof(ctx, txp)
	if err != nil {
		return "", err
	}
	if validated.Hash == "" {
		return "", ErrProofInvalid
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"subaddress": txp.Subaddress,
		"created":    strconv.FormatInt(time.Now().Unix(), 10),
		"hash":       txp.Hash,
		"expire":     strconv.FormatUint(s.cfg.ConfirmationThreshold, 10),
		"message":    txp.Message,
		"signature":  txp.Signature,
	})
	return token.SignedString(s.jwpKey)
}

// ValidateProof checks the underlying transaction and proof signature.
// Returns a populated TxProof (with observed confirmations) on success,
// the zero value otherwise.
func (s *Service) ValidateProof(ctx context.Context, txp *models.TxProof) (models.TxProof, error) {
	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return models.TxProof{}, fmt.Errorf("proof: wallet busy")
	}
	defer s.wallet.CloseWallet(ctx, walletName, walletPassword)

	// unlock time must not be something funky
	tx, err := s.wallet.GetTransferByTxID(ctx, txp.Hash)
	if err != nil {
		return models.TxProof{}, fmt.Errorf("proof: %w", err)
	}
	if !tx.Transfer.Propagated() || tx.Transfer.UnlockTime >= config.BlockUnlockLimit {
		return models.TxProof{}, nil
	}

	check, err := s.wallet.CheckTxProof(ctx, txp.Subaddress, txp.Hash, txp.Message, txp.Signature)
	if err != nil {
		return models.TxProof{}, fmt.Errorf("proof: %w", err)
	}
	lgtm := check.Good &&
		check.Confirmations < s.cfg.ConfirmationThreshold &&
		check.Received >= s.cfg.PaymentThreshold
	if !lgtm {
		return models.TxProof{}, nil
	}

	return models.TxProof{
		Subaddress:    txp.Subaddress,
		Hash:          txp.Hash,
		Message:       txp.Message,
		Signature:     txp.Signature,
		Confirmations: check.Confirmations,
	}, nil
}

// VerifyJwp guards a protected request: HMAC check, subaddress
// ownership, full proof revalidation, confirmation-window expiry.
func (s *Service) VerifyJwp(ctx context.Context, jwpStr string) error {
	if jwpStr == "" {
		return ErrProofMissing
	}
	token, err := jwt.Parse(jwpStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwpKey, nil
	})
	if err != nil || !token.Valid {
		return ErrProofInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrProofInvalid
	}

	subaddress, _ := claims["subaddress"].(string)
	hash, _ := claims["hash"].(string)
	message, _ := claims["message"].(string)
	signature, _ := claims["signature"].(string)

	owned, err := s.validateSubaddress(ctx, subaddress)
	if err != nil || !owned {
		return ErrProofInvalid
	}

	txp := models.TxProof{
		Subaddress: subaddress,
		Hash:       hash,
		Message:    message,
		Signature:  signature,
	}
	validated, err := s.ValidateProof(ctx, &txp)
	if err != nil {
		return ErrProofInvalid
	}
	if validated.Hash == "" {
		// proof no longer validates; distinguish expiry from garbage
		if expired, _ := s.isExpired(ctx, &txp); expired {
			return ErrProofExpired
		}
		return ErrProofInvalid
	}
	if validated.Confirmations >= s.cfg.ConfirmationThreshold {
		return ErrProofExpired
	}
	return nil
}

// isExpired re-checks only the confirmation window of a proof.
func (s *Service) isExpired(ctx context.Context, txp *models.TxProof) (bool, error) {
	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return false, fmt.Errorf("proof: wallet busy")
	}
	check, err := s.wallet.CheckTxProof(ctx, txp.Subaddress, txp.Hash, txp.Message, txp.Signature)
	s.wallet.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		return false, err
	}
	return check.Good && check.Confirmations >= s.cfg.ConfirmationThreshold, nil
}

// validateSubaddress checks that the proof's subaddress was created by
// this process's wallet.
func (s *Service) validateSubaddress(ctx context.Context, subaddress string) (bool, error) {
	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return false, fmt.Errorf("proof: wallet busy")
	}
	addr, err := s.wallet.GetAddress(ctx)
	s.wallet.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		return false, err
	}
	for _, sub := range addr.Addresses {
		if sub.Address == subaddress {
			return true, nil
		}
	}
	return false, nil
}

// ProvePayment sends a transaction proof to a peer and caches the JWP it
// returns for the retry scheduler.
func (s *Service) ProvePayment(ctx context.Context, peer string, txp *models.TxProof) (models.Jwp, error) {
	var out models.Jwp
	status, err := i2p.PostJSON(ctx, s.i2p, "http://"+peer+"/prove", "", txp, &out)
	if err != nil {
		s.log.Error("failed to prove payment", "peer", peer, "error", err)
		return models.Jwp{}, err
	}
	if status != 200 || out.Jwp == "" {
		return models.Jwp{}, fmt.Errorf("proof: peer rejected proof with status %d", status)
	}
	if err := s.CacheJwp(peer, out.Jwp); err != nil {
		return models.Jwp{}, err
	}
	return out, nil
}

// CacheJwp stores a peer's JWP under fts-jwp-{i2p} for later resends.
func (s *Service) CacheJwp(peer, jwp string) error {
	return s.db.Put(fmt.Sprintf("%s-%s", models.FtsJwpDBKey, peer), []byte(jwp))
}

// CachedJwp reads the JWP cached for a peer.
func (s *Service) CachedJwp(peer string) (string, error) {
	raw, err := s.db.Get(fmt.Sprintf("%s-%s", models.FtsJwpDBKey, peer))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
