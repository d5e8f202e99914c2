// Package message implements the reliable messaging pipeline: public-key
// enciphered send, receive validation, liveness-gated delivery and the
// failed-to-send retry queue.
package message

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/neveko-market/nevekod/internal/contact"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/proof"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Type distinguishes plain messages from multisig coordination messages.
type Type int

const (
	Normal Type = iota
	Multisig
)

// Errors surfaced to the transport layer.
var (
	ErrInvalid       = errors.New("message: invalid message")
	ErrUnknownPeer   = errors.New("message: peer not in contact list")
	ErrNotFound      = errors.New("message: message not found")
	ErrMsigMalformed = errors.New("message: malformed multisig body")
)

// Service drives the messaging pipeline.
type Service struct {
	db       *storage.DB
	contacts *contact.Service
	proofs   *proof.Service
	i2p      *i2p.Client
	keys     *neveko25519.KeyPair
	wallet   *wallet.Client
	log      *logging.Logger

	// ftsRunning guards against double-spawning the retry task.
	ftsRunning atomic.Bool
}

// NewService creates the message service.
func NewService(db *storage.DB, contacts *contact.Service, proofs *proof.Service, transport *i2p.Client, keys *neveko25519.KeyPair, w *wallet.Client) *Service {
	return &Service{
		db:       db,
		contacts: contacts,
		proofs:   proofs,
		i2p:      transport,
		keys:     keys,
		wallet:   w,
		log:      logging.GetDefault().Component("message"),
	}
}

// Create enciphers and persists an outbound message, then attempts
// delivery. The stored body is the hex wire form of the ciphertext.
func (s *Service) Create(ctx context.Context, m models.Message, jwp string, mType Type) (models.Message, error) {
	rnd := helpers.GenerateRnd()
	mid := models.MessageDBKey + rnd
	if mType == Multisig {
		mid = models.MsigMessageDBKey + rnd
	}
	s.log.Info("creating message", "mid", helpers.ShortID(mid))

	peer, err := s.contacts.FindByI2PAddress(m.To)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %s", ErrUnknownPeer, m.To)
	}
	body, err := s.keys.Cipher(peer.NMPK, m.Body, neveko25519.Encipher)
	if err != nil {
		return models.Message{}, fmt.Errorf("message: %w", err)
	}

	out := models.Message{
		MID:     mid,
		UID:     m.UID,
		From:    s.i2p.Destination(),
		To:      m.To,
		Body:    body,
		Created: time.Now().Unix(),
	}
	if err := storage.PutJSON(s.db, mid, out); err != nil {
		return models.Message{}, err
	}
	if err := s.db.IndexAppend(models.MessageListDBKey, mid); err != nil {
		return models.Message{}, err
	}

	s.log.Info("attempting to send message")
	s.SendMessage(ctx, &out, jwp, mType)
	return out, nil
}

// Rx validates and persists an inbound message. The body stays
// enciphered at rest.
func (s *Service) Rx(m models.Message) error {
	s.log.Info("rx", "from", m.From)
	if !s.validate(&m) {
		return ErrInvalid
	}
	if !s.contacts.Exists(m.From) {
		s.log.Error("not a mutual contact", "from", m.From)
		return ErrUnknownPeer
	}

	mid := models.MessageDBKey + helpers.GenerateRnd()
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
	return s.db.IndexAppend(models.RxMessageDBKey, mid)
}

// validate checks field lengths against the DoS limits and that the
// message was addressed to this node.
func (s *Service) validate(m *models.Message) bool {
	return len(m.MID) < models.StringLimit &&
		len(m.Body) < models.MessageLimit &&
		len(m.UID) < models.StringLimit &&
		m.To == s.i2p.Destination()
}

// Find looks up a message by id.
func (s *Service) Find(mid string) (models.Message, error) {
	var m models.Message
	if err := storage.GetJSON(s.db, mid, &m); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	return m, nil
}

// FindAll enumerates sent and received messages.
func (s *Service) FindAll() ([]models.Message, error) {
	var messages []models.Message
	for _, listKey := range []string{models.MessageListDBKey, models.RxMessageDBKey} {
		ids, err := s.db.IndexMembers(listKey)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			m, err := s.Find(id)
			if err != nil {
				continue
			}
			if m.MID != "" {
				messages = append(messages, m)
			}
		}
	}
	return messages, nil
}

// Delete removes a message by id.
func (s *Service) Delete(mid string) error {
	err := s.db.Delete(mid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// DecipherBody deciphers a stored message against the sender's NMPK.
func (s *Service) DecipherBody(mid string) (models.DecipheredMessageBody, error) {
	m, err := s.Find(mid)
	if err != nil {
		return models.DecipheredMessageBody{}, err
	}
	peer, err := s.contacts.FindByI2PAddress(m.From)
	if err != nil {
		return models.DecipheredMessageBody{}, fmt.Errorf("%w: %s", ErrUnknownPeer, m.From)
	}
	body, err := s.keys.Cipher(peer.NMPK, m.Body, neveko25519.Decipher)
	if err != nil {
		return models.DecipheredMessageBody{}, fmt.Errorf("message: %w", err)
	}
	return models.DecipheredMessageBody{MID: mid, Body: body}, nil
}

// SendMessage probes the peer and delivers the message, or enqueues it
// for retry when the peer is offline. A 2xx or 402 response clears the
// id from the retry queue; the peer either received the message or
// rejected it with a known semantic.
func (s *Service) SendMessage(ctx context.Context, m *models.Message, jwp string, mType Type) {
	if !s.isContactOnline(ctx, m.To, jwp) {
		s.sendToRetry(ctx, m.MID)
		return
	}

	url := "http://" + m.To + "/message/rx"
	if mType == Multisig {
		url = "http://" + m.To + "/message/rx/multisig"
	}
	status, err := i2p.PostJSON(ctx, s.i2p, url, jwp, m, nil)
	if err != nil {
		s.log.Error("failed to send message", "mid", helpers.ShortID(m.MID), "error", err)
		return
	}
	s.log.Debug("send response", "status", status)
	if (status >= 200 && status < 300) || status == http.StatusPaymentRequired {
		if err := s.removeFromFts(m.MID); err != nil {
			s.log.Error("failed to clear fts entry", "error", err)
		}
	}
}

// isContactOnline probes the peer's wallet RPC version through the
// hidden service. The invalid version sentinel or any transport error
// counts as offline.
func (s *Service) isContactOnline(ctx context.Context, peer, jwp string) bool {
	var v wallet.Version
	url := "http://" + peer + "/xmr/rpc/version"
	if err := i2p.GetJSON(ctx, s.i2p, url, jwp, &v); err != nil {
		s.log.Debug("liveness probe failed", "peer", peer, "error", err)
		return false
	}
	return v.Version != wallet.InvalidVersion
}

// messageType infers the resend type from the id prefix.
func messageType(mid string) Type {
	if strings.Contains(mid, models.MsigMessageDBKey) {
		return Multisig
	}
	return Normal
}
