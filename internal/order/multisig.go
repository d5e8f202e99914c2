// Package order - multisig escrow orchestration.
//
// The three parties (customer, vendor, adjudicator) each hold a
// per-order wallet. Incoming MultisigInfoRequest messages drive each
// step, which runs at once on the artifacts carried in the request's
// Info. No step waits for the opposing artifacts to arrive under their
// {sub_type}-{orid}-{peer} keys; only the funding check (export) and
// finalize (txset) read a stored artifact, and fail when it is absent.
package order

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/message"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/helpers"
)

// ProcessMultisigInfo dispatches one step of the key exchange on behalf
// of the requesting counterparty and answers with the current order.
func (s *Service) ProcessMultisigInfo(ctx context.Context, req *models.MultisigInfoRequest) (models.Order, error) {
	s.log.Info("processing multisig info request", "msig_type", req.MsigType, "orid", helpers.ShortID(req.OrID))

	switch req.MsigType {
	case models.PrepareMsig:
		if req.InitAdjudicator {
			if err := s.InitAdjudicatorWallet(ctx, req.OrID); err != nil {
				return models.Order{}, err
			}
		}
		if err := s.messages.SendPrepareInfo(ctx, req.OrID, req.Contact); err != nil {
			return models.Order{}, err
		}
	case models.MakeMsig:
		if err := s.messages.SendMakeInfo(ctx, req.OrID, req.Contact, req.Info); err != nil {
			return models.Order{}, err
		}
	case models.KexOneMsig:
		if err := s.messages.SendExchangeInfo(ctx, req.OrID, req.Contact, req.Info, true); err != nil {
			return models.Order{}, err
		}
	case models.KexTwoMsig:
		if err := s.messages.SendExchangeInfo(ctx, req.OrID, req.Contact, req.Info, false); err != nil {
			return models.Order{}, err
		}
	case models.ExportMsig:
		if err := s.messages.SendExportInfo(ctx, req.OrID, req.Contact); err != nil {
			return models.Order{}, err
		}
	case models.ImportMsig:
		if err := s.SendImportInfo(ctx, req.OrID, req.Info); err != nil {
			return models.Order{}, err
		}
	default:
		return models.Order{}, fmt.Errorf("order: unknown msig type %q", req.MsigType)
	}

	o, err := s.Find(req.OrID)
	if err != nil {
		// the adjudicator holds no order record; answer with the id only
		return models.Order{OrID: req.OrID}, nil
	}
	return o, nil
}

// SendImportInfo imports the counterparty's export info into the order
// wallet. A successful import with outputs moves the order to multisig
// complete.
func (s *Service) SendImportInfo(ctx context.Context, orid string, info []string) error {
	if !s.wallet.OpenWallet(ctx, orid, "") {
		return fmt.Errorf("%w: wallet busy", ErrWallet)
	}
	imported, err := s.wallet.ImportMultisigInfo(ctx, info)
	s.wallet.CloseWallet(ctx, orid, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWallet, err)
	}
	if imported.NOutputs == 0 {
		s.log.Error("unable to import multisig info", "orid", helpers.ShortID(orid))
		return ErrNotFunded
	}

	o, err := s.Find(orid)
	if err != nil {
		return err
	}
	o.Status = models.StatusMulitsigComplete
	if _, err := s.Modify(o); err != nil {
		return err
	}
	s.log.Debug("order updated", "orid", helpers.ShortID(orid), "status", o.Status)
	return nil
}

// ValidateOrderForShip imports the customer's export info, then checks
// that the escrow holds the full price x quantity with an acceptable
// unlock window. Passing the check moves the order to multisig complete.
func (s *Service) ValidateOrderForShip(ctx context.Context, orid string) (bool, error) {
	s.log.Info("validating order for shipment", "orid", helpers.ShortID(orid))
	o, err := s.Find(orid)
	if err != nil {
		return false, err
	}
	total, err := s.total(&o)
	if err != nil {
		return false, err
	}
	s.log.Debug("escrow total", "orid", helpers.ShortID(orid), "xmr", helpers.FormatPiconero(total))

	info, err := s.messages.MsigInfo(models.ExportMsig, orid, o.CID)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, ErrNotFunded
		}
		return false, err
	}

	if !s.wallet.OpenWallet(ctx, orid, "") {
		return false, fmt.Errorf("%w: wallet busy", ErrWallet)
	}
	imported, importErr := s.wallet.ImportMultisigInfo(ctx, info)
	balance, balanceErr := s.wallet.GetBalance(ctx)
	s.wallet.CloseWallet(ctx, orid, "")
	if importErr != nil {
		return false, fmt.Errorf("%w: %v", ErrWallet, importErr)
	}
	if balanceErr != nil {
		return false, fmt.Errorf("%w: %v", ErrWallet, balanceErr)
	}

	funded := imported.NOutputs > 0 &&
		new(big.Int).SetUint64(balance.Balance).Cmp(total) >= 0 &&
		balance.BlocksToUnlock < config.BlockUnlockLimit
	if !funded {
		return false, nil
	}

	o.Status = models.StatusMulitsigComplete
	if _, err := s.Modify(o); err != nil {
		return false, err
	}
	return true, nil
}

// UploadDeliveryInfo enciphers the delivery details against the
// customer's message key and marks the order shipped. The customer gains
// access once they release the signed txset.
func (s *Service) UploadDeliveryInfo(ctx context.Context, keys *neveko25519.KeyPair, orid string, deliveryInfo []byte) error {
	s.log.Info("uploading delivery info", "orid", helpers.ShortID(orid))
	o, err := s.Find(orid)
	if err != nil {
		return err
	}
	customer, err := s.contacts.FindByI2PAddress(o.CID)
	if err != nil {
		return fmt.Errorf("order: unknown customer %s", o.CID)
	}
	enciphered, err := keys.Cipher(customer.NMPK, string(deliveryInfo), neveko25519.Encipher)
	if err != nil {
		return fmt.Errorf("order: unable to encipher delivery info: %w", err)
	}
	key := fmt.Sprintf("%s-%s", models.DeliveryDBKey, orid)
	if err := s.db.Put(key, []byte(enciphered)); err != nil {
		return err
	}

	o.Status = models.StatusShipped
	o.ShipDate = time.Now().Unix()
	_, err = s.Modify(o)
	return err
}

// FinalizeOrder verifies the customer's signed txset against the order
// total, signs and submits it, and releases the delivery info. The
// txset is looked up under txset-{orid}-{customer}.
func (s *Service) FinalizeOrder(ctx context.Context, orid string) (models.FinalizeOrderResponse, error) {
	s.log.Info("finalizing order", "orid", helpers.ShortID(orid))
	o, err := s.Find(orid)
	if err != nil {
		return models.FinalizeOrderResponse{}, err
	}
	total, err := s.total(&o)
	if err != nil {
		return models.FinalizeOrderResponse{}, err
	}

	raw, err := s.db.Get(message.MsigKey(models.TxSetMsig, orid, o.CID))
	if err != nil {
		return models.FinalizeOrderResponse{}, fmt.Errorf("order: txset not staged: %w", err)
	}
	txset := strings.TrimSpace(string(raw))

	if !s.wallet.OpenWallet(ctx, orid, "") {
		return models.FinalizeOrderResponse{}, fmt.Errorf("%w: wallet busy", ErrWallet)
	}
	defer s.wallet.CloseWallet(ctx, orid, "")

	described, err := s.wallet.DescribeTransfer(ctx, txset)
	if err != nil {
		return models.FinalizeOrderResponse{}, fmt.Errorf("%w: %v", ErrWallet, err)
	}
	if len(described.Desc) == 0 {
		return models.FinalizeOrderResponse{}, fmt.Errorf("order: empty transfer description")
	}
	desc := described.Desc[0]
	paid := new(big.Int).SetUint64(desc.AmountOut + desc.Fee)
	if paid.Cmp(total) < 0 || desc.UnlockTime >= config.BlockUnlockLimit {
		return models.FinalizeOrderResponse{}, fmt.Errorf("order: invalid payment txset")
	}

	submitted, err := s.signAndSubmit(ctx, txset)
	if err != nil {
		return models.FinalizeOrderResponse{}, err
	}
	if len(submitted.TxHashList) == 0 {
		return models.FinalizeOrderResponse{}, fmt.Errorf("order: unable to submit payment")
	}

	deliveryKey := fmt.Sprintf("%s-%s", models.DeliveryDBKey, orid)
	deliveryInfo, err := s.db.Get(deliveryKey)
	if err != nil {
		deliveryInfo = nil
	}

	o.Status = models.StatusDelivered
	o.DeliverDate = time.Now().Unix()
	o.Hash = submitted.TxHashList[0]
	if _, err := s.Modify(o); err != nil {
		return models.FinalizeOrderResponse{}, err
	}

	return models.FinalizeOrderResponse{
		OrID:         orid,
		DeliveryInfo: deliveryInfo,
	}, nil
}

// signAndSubmit signs a multisig txset and broadcasts the result. The
// caller must hold the order wallet open.
func (s *Service) signAndSubmit(ctx context.Context, txDataHex string) (*wallet.SubmittedMultisig, error) {
	signed, err := s.wallet.SignMultisig(ctx, txDataHex)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", ErrWallet, err)
	}
	submitted, err := s.wallet.SubmitMultisig(ctx, signed.TxDataHex)
	if err != nil {
		return nil, fmt.Errorf("%w: submit: %v", ErrWallet, err)
	}
	if len(submitted.TxHashList) == 0 {
		s.log.Error("unable to submit payment")
	}
	return submitted, nil
}

// SignAndSubmitTxSet opens the order wallet, then signs and submits the
// given txset. Used by the customer-side release flow.
func (s *Service) SignAndSubmitTxSet(ctx context.Context, orid, txDataHex string) (*wallet.SubmittedMultisig, error) {
	if !s.wallet.OpenWallet(ctx, orid, "") {
		return nil, fmt.Errorf("%w: wallet busy", ErrWallet)
	}
	defer s.wallet.CloseWallet(ctx, orid, "")
	return s.signAndSubmit(ctx, txDataHex)
}
