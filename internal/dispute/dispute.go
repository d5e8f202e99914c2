// Package dispute implements marketplace dispute staging and the
// auto-settle scheduler. A dispute holds an unsigned multisig txset;
// after the grace period lapses the adjudicator's node signs and
// submits it without further input.
package dispute

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/proof"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Errors surfaced to the transport layer.
var (
	ErrNotFound = errors.New("dispute: dispute not found")
	ErrSettle   = errors.New("dispute: settlement failed")
)

// Service manages disputes.
type Service struct {
	db     *storage.DB
	wallet *wallet.Client
	proofs *proof.Service
	i2p    *i2p.Client
	log    *logging.Logger

	// settleRunning guards against double-spawning the scheduler.
	settleRunning atomic.Bool
}

// NewService creates the dispute service.
func NewService(db *storage.DB, w *wallet.Client, proofs *proof.Service, transport *i2p.Client) *Service {
	return &Service{
		db:     db,
		wallet: w,
		proofs: proofs,
		i2p:    transport,
		log:    logging.GetDefault().Component("dispute"),
	}
}

// Create stages a new dispute and (re)starts the auto-settle scheduler.
func (s *Service) Create(ctx context.Context, d models.Dispute) (models.Dispute, error) {
	did := models.DisputeDBKey + helpers.GenerateRnd()
	s.log.Info("create dispute", "did", helpers.ShortID(did))
	newDispute := models.Dispute{
		DID:     did,
		Created: time.Now().Unix(),
		OrID:    d.OrID,
		TxSet:   d.TxSet,
	}
	if err := storage.PutJSON(s.db, did, newDispute); err != nil {
		return models.Dispute{}, err
	}
	if err := s.db.IndexAppend(models.DisputeListDBKey, did); err != nil {
		return models.Dispute{}, err
	}
	s.StartAutoSettle(ctx)
	return newDispute, nil
}

// Find looks up a dispute by id.
func (s *Service) Find(did string) (models.Dispute, error) {
	var d models.Dispute
	if err := storage.GetJSON(s.db, did, &d); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Dispute{}, ErrNotFound
		}
		return models.Dispute{}, err
	}
	return d, nil
}

// FindAll enumerates staged disputes.
func (s *Service) FindAll() ([]models.Dispute, error) {
	ids, err := s.db.IndexMembers(models.DisputeListDBKey)
	if err != nil {
		return nil, err
	}
	var disputes []models.Dispute
	for _, id := range ids {
		d, err := s.Find(id)
		if err != nil {
			continue
		}
		if d.DID != "" {
			disputes = append(disputes, d)
		}
	}
	return disputes, nil
}

// Delete removes a dispute record.
func (s *Service) Delete(did string) error {
	err := s.db.Delete(did)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// SettleRunning reports whether the auto-settle task is active.
func (s *Service) SettleRunning() bool {
	return s.settleRunning.Load()
}

// StartAutoSettle launches the auto-settle task unless one is already
// running. Double-spawn is prevented by a compare-and-swap.
func (s *Service) StartAutoSettle(ctx context.Context) {
	if !s.settleRunning.CompareAndSwap(false, true) {
		return
	}
	go s.settleLoop(ctx)
}

// settleLoop wakes every DisputeCheckInterval, settling due disputes.
// The task deletes the index and exits when it is clear; new disputes
// restart it.
func (s *Service) settleLoop(ctx context.Context) {
	defer s.settleRunning.Store(false)

	ticker := time.NewTicker(config.DisputeCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.log.Debug("running dispute auto-settle task")

		clear, err := s.db.IndexIsClear(models.DisputeListDBKey)
		if err != nil {
			s.log.Error("failed to read dispute index", "error", err)
			return
		}
		if clear {
			s.log.Info("terminating dispute auto-settle task")
			if err := s.db.Delete(models.DisputeListDBKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				s.log.Error("failed to drop dispute index", "error", err)
			}
			return
		}

		members, err := s.db.IndexMembers(models.DisputeListDBKey)
		if err != nil {
			s.log.Error("failed to read dispute index", "error", err)
			return
		}
		now := time.Now().Unix()
		for _, did := range members {
			d, err := s.Find(did)
			if err != nil || d.DID == "" {
				continue
			}
			settleDate := d.Created + int64(config.DisputeAutoSettle/time.Second)
			if now < settleDate {
				continue
			}
			if err := s.settle(ctx, &d); err != nil {
				s.log.Error("could not settle dispute", "did", helpers.ShortID(d.DID), "error", err)
				continue
			}
			if err := s.db.IndexRemove(models.DisputeListDBKey, d.DID); err != nil {
				s.log.Error("failed to clear dispute from index", "error", err)
			}
		}
	}
}

// settle signs and submits the dispute's staged txset on the order
// wallet.
func (s *Service) settle(ctx context.Context, d *models.Dispute) error {
	if !s.wallet.OpenWallet(ctx, d.OrID, "") {
		return ErrSettle
	}
	defer s.wallet.CloseWallet(ctx, d.OrID, "")

	signed, err := s.wallet.SignMultisig(ctx, d.TxSet)
	if err != nil {
		return err
	}
	submitted, err := s.wallet.SubmitMultisig(ctx, signed.TxDataHex)
	if err != nil {
		return err
	}
	if len(submitted.TxHashList) == 0 {
		return ErrSettle
	}
	s.log.Info("dispute settled", "did", helpers.ShortID(d.DID), "tx", submitted.TxHashList[0])
	return nil
}

// TransmitDisputeRequest files a dispute with a counterparty using their
// cached JWP.
func (s *Service) TransmitDisputeRequest(ctx context.Context, peer string, d *models.Dispute) (models.Dispute, error) {
	jwp, err := s.proofs.CachedJwp(peer)
	if err != nil || jwp == "" {
		return models.Dispute{}, errors.New("dispute: no jwp cached for peer")
	}
	var out models.Dispute
	status, err := i2p.PostJSON(ctx, s.i2p, "http://"+peer+"/market/dispute/create", jwp, d, &out)
	if err != nil {
		s.log.Error("failed to create dispute", "peer", peer, "error", err)
		return models.Dispute{}, err
	}
	if status < 200 || status >= 300 {
		return models.Dispute{}, ErrSettle
	}
	return out, nil
}
