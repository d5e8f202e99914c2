// Package message - multisig coordination messages.
//
// Multisig messages share the Message shape but carry the wire body
// "{sub_type}:{orid}:{info}[:{info2}]". On receipt they are deciphered
// and indexed under {sub_type}-{orid}-{peer} so the order orchestrator
// can look each artifact up directly.
package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/pkg/helpers"
)

// multisigData is a parsed multisig message body.
type multisigData struct {
	subType string
	orid    string
	info    string
}

// parseMultisigBody splits the deciphered wire body. Any sub type may
// carry one info segment or two; a second segment is joined back with
// ":" for storage.
func parseMultisigBody(decoded string) (multisigData, error) {
	parts := strings.Split(decoded, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return multisigData{}, ErrMsigMalformed
	}
	data := multisigData{
		subType: parts[0],
		orid:    parts[1],
		info:    parts[2],
	}
	if len(parts) == 4 {
		data.info = parts[2] + ":" + parts[3]
	}
	switch data.subType {
	case models.PrepareMsig, models.MakeMsig, models.KexOneMsig, models.KexTwoMsig,
		models.ExportMsig, models.ImportMsig, models.SignMsig, models.TxSetMsig:
	default:
		return multisigData{}, ErrMsigMalformed
	}
	return data, nil
}

// MsigKey is the direct-lookup key for a received multisig artifact.
func MsigKey(subType, orid, peer string) string {
	return fmt.Sprintf("%s-%s-%s", subType, orid, peer)
}

// RxMultisig validates, persists and indexes an inbound multisig
// message. Re-receipt of the same step overwrites the lookup record, so
// key-exchange messages are idempotent.
func (s *Service) RxMultisig(m models.Message) error {
	s.log.Info("rx multisig", "from", m.From)
	if !s.validate(&m) {
		return ErrInvalid
	}
	if !s.contacts.Exists(m.From) {
		s.log.Error("not a mutual contact", "from", m.From)
		return ErrUnknownPeer
	}

	mid := models.MsigMessageDBKey + helpers.GenerateRnd()
	in := models.Message{
		MID:     mid,
		UID:     models.RxMessageDBKey,
		From:    m.From,
		To:      m.To,
		Body:    m.Body,
		Created: time.Now().Unix(),
	}
	if err := storage.PutJSON(s.db, mid, in); err != nil {
		return err
	}
	if err := s.db.IndexAppend(models.MsigMessageListDBKey, mid); err != nil {
		return err
	}

	peer, err := s.contacts.FindByI2PAddress(m.From)
	if err != nil {
		return ErrUnknownPeer
	}
	decoded, err := s.keys.Cipher(peer.NMPK, m.Body, neveko25519.Decipher)
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	data, err := parseMultisigBody(decoded)
	if err != nil {
		return err
	}
	s.log.Debug("writing multisig message", "sub_type", data.subType, "orid", helpers.ShortID(data.orid))
	return s.db.Put(MsigKey(data.subType, data.orid, m.From), []byte(data.info))
}

// MsigInfo reads the stored artifact for one step of an order's key
// exchange, split back into its segments.
func (s *Service) MsigInfo(subType, orid, peer string) ([]string, error) {
	raw, err := s.db.Get(MsigKey(subType, orid, peer))
	if err != nil {
		return nil, err
	}
	return strings.Split(string(raw), ":"), nil
}

// sendMsigBody builds, enciphers and sends one multisig message using
// the peer's cached JWP.
func (s *Service) sendMsigBody(ctx context.Context, peer, body string) error {
	jwp, err := s.proofs.CachedJwp(peer)
	if err != nil || jwp == "" {
		return fmt.Errorf("message: no jwp cached for %s", peer)
	}
	m := models.Message{
		To:      peer,
		Body:    body,
		Created: time.Now().Unix(),
	}
	_, err = s.Create(ctx, m, jwp, Multisig)
	return err
}

// SendPrepareInfo runs prepare_multisig on the order wallet and sends
// the result to a counterparty.
func (s *Service) SendPrepareInfo(ctx context.Context, orid, peer string) error {
	if !s.wallet.OpenWallet(ctx, orid, "") {
		return fmt.Errorf("message: wallet busy")
	}
	prep, err := s.wallet.PrepareMultisig(ctx)
	s.wallet.CloseWallet(ctx, orid, "")
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	body := fmt.Sprintf("%s:%s:%s", models.PrepareMsig, orid, prep.MultisigInfo)
	return s.sendMsigBody(ctx, peer, body)
}

// SendMakeInfo runs make_multisig with the other parties' prepare info
// and sends the result to a counterparty.
func (s *Service) SendMakeInfo(ctx context.Context, orid, peer string, info []string) error {
	if !s.wallet.OpenWallet(ctx, orid, "") {
		return fmt.Errorf("message: wallet busy")
	}
	made, err := s.wallet.MakeMultisig(ctx, info, "")
	s.wallet.CloseWallet(ctx, orid, "")
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	body := fmt.Sprintf("%s:%s:%s", models.MakeMsig, orid, made.MultisigInfo)
	return s.sendMsigBody(ctx, peer, body)
}

// SendExchangeInfo runs one key-exchange round and sends the result. The
// first round sends the fresh exchange info; the second sends the
// resulting shared address.
func (s *Service) SendExchangeInfo(ctx context.Context, orid, peer string, info []string, kexInit bool) error {
	if !s.wallet.OpenWallet(ctx, orid, "") {
		return fmt.Errorf("message: wallet busy")
	}
	kex, err := s.wallet.ExchangeMultisigKeys(ctx, info, "", false)
	s.wallet.CloseWallet(ctx, orid, "")
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	body := fmt.Sprintf("%s:%s:%s", models.KexOneMsig, orid, kex.MultisigInfo)
	if !kexInit {
		body = fmt.Sprintf("%s:%s:%s", models.KexTwoMsig, orid, kex.Address)
	}
	return s.sendMsigBody(ctx, peer, body)
}

// SendExportInfo exports the order wallet's multisig info to the
// opposing party after funding.
func (s *Service) SendExportInfo(ctx context.Context, orid, peer string) error {
	if !s.wallet.OpenWallet(ctx, orid, "") {
		return fmt.Errorf("message: wallet busy")
	}
	export, err := s.wallet.ExportMultisigInfo(ctx)
	s.wallet.CloseWallet(ctx, orid, "")
	if err != nil {
		return fmt.Errorf("message: %w", err)
	}
	info := export.Info
	if info == "" {
		info = export.MultisigInfo
	}
	body := fmt.Sprintf("%s:%s:%s", models.ExportMsig, orid, info)
	return s.sendMsigBody(ctx, peer, body)
}

// SendTxSet stages the unsigned txset with the customer for signing.
func (s *Service) SendTxSet(ctx context.Context, orid, peer, txset string) error {
	body := fmt.Sprintf("%s:%s:%s", models.TxSetMsig, orid, txset)
	return s.sendMsigBody(ctx, peer, body)
}

// TriggerMsigInfoRequest asks a counterparty to run one step of the key
// exchange and message back its artifact.
func (s *Service) TriggerMsigInfoRequest(ctx context.Context, peer, jwp string, req *models.MultisigInfoRequest) (models.Order, error) {
	var out models.Order
	status, err := i2p.PostJSON(ctx, s.i2p, "http://"+peer+"/multisig/info", jwp, req, &out)
	if err != nil {
		s.log.Error("failed to trigger msig info request", "msig_type", req.MsigType, "error", err)
		return models.Order{}, err
	}
	if status < 200 || status >= 300 {
		return models.Order{}, fmt.Errorf("message: peer returned status %d", status)
	}
	return out, nil
}
