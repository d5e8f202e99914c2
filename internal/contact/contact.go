// Package contact manages peer identity records: the .b32.i2p address,
// XMR address and message public key of each mutual contact.
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// ErrInvalid is returned for contacts failing field validation.
var ErrInvalid = errors.New("contact: invalid contact")

// Service manages the contact list.
type Service struct {
	db     *storage.DB
	wallet *wallet.Client
	i2p    *i2p.Client
	keys   *neveko25519.KeyPair
	cfg    *config.Config
	log    *logging.Logger
}

// NewService creates the contact service.
func NewService(db *storage.DB, w *wallet.Client, transport *i2p.Client, keys *neveko25519.KeyPair, cfg *config.Config) *Service {
	return &Service{
		db:     db,
		wallet: w,
		i2p:    transport,
		keys:   keys,
		cfg:    cfg,
		log:    logging.GetDefault().Component("contact"),
	}
}

// Create validates and stores a new contact. Each i2p address may appear
// at most once.
func (s *Service) Create(ctx context.Context, c *models.Contact) (models.Contact, error) {
	if err := s.validate(ctx, c); err != nil {
		return models.Contact{}, err
	}
	if s.Exists(c.I2PAddress) {
		return models.Contact{}, fmt.Errorf("%w: duplicate i2p address", ErrInvalid)
	}

	cid := models.ContactDBKey + helpers.GenerateRnd()
	s.log.Info("creating contact", "cid", helpers.ShortID(cid))
	newContact := models.Contact{
		CID:        cid,
		I2PAddress: c.I2PAddress,
		XMRAddress: c.XMRAddress,
		NMPK:       c.NMPK,
	}
	if err := storage.PutJSON(s.db, cid, newContact); err != nil {
		return models.Contact{}, err
	}
	if err := s.db.IndexAppend(models.ContactListDBKey, cid); err != nil {
		return models.Contact{}, err
	}
	return newContact, nil
}

// validate checks field lengths, the address suffix and the XMR address
// against the wallet daemon.
func (s *Service) validate(ctx context.Context, c *models.Contact) error {
	if len(c.CID) >= models.StringLimit ||
		len(c.I2PAddress) >= models.StringLimit ||
		!strings.HasSuffix(c.I2PAddress, ".b32.i2p") ||
		len(c.NMPK) > models.NMPKLimit {
		return ErrInvalid
	}

	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return fmt.Errorf("%w: wallet busy", ErrInvalid)
	}
	validation, err := s.wallet.ValidateAddress(ctx, c.XMRAddress)
	s.wallet.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		return fmt.Errorf("contact: %w", err)
	}
	if !validation.Valid {
		return fmt.Errorf("%w: bad xmr address", ErrInvalid)
	}
	return nil
}

// Find looks up a contact by id.
func (s *Service) Find(cid string) (models.Contact, error) {
	var c models.Contact
	if err := storage.GetJSON(s.db, cid, &c); err != nil {
		return models.Contact{}, err
	}
	return c, nil
}

// FindByI2PAddress looks up a contact by its hidden-service address.
func (s *Service) FindByI2PAddress(address string) (models.Contact, error) {
	all, err := s.FindAll()
	if err != nil {
		return models.Contact{}, err
	}
	for _, c := range all {
		if c.I2PAddress == address {
			return c, nil
		}
	}
	return models.Contact{}, storage.ErrNotFound
}

// FindAll enumerates the contact list.
func (s *Service) FindAll() ([]models.Contact, error) {
	ids, err := s.db.IndexMembers(models.ContactListDBKey)
	if err != nil {
		return nil, err
	}
	var contacts []models.Contact
	for _, id := range ids {
		c, err := s.Find(id)
		if err != nil {
			continue
		}
		if c.CID != "" {
			contacts = append(contacts, c)
		}
	}
	return contacts, nil
}

// Exists reports whether an i2p address is in the contact list.
func (s *Service) Exists(i2pAddress string) bool {
	_, err := s.FindByI2PAddress(i2pAddress)
	return err == nil
}

// Share assembles this node's own identity record for peers, omitting
// the primary key.
func (s *Service) Share(ctx context.Context) (models.Contact, error) {
	isVendor := false
	if raw, err := s.db.Get(models.VendorEnabledKey); err == nil {
		isVendor = string(raw) == models.VendorModeOn
	}

	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return models.Contact{}, fmt.Errorf("contact: wallet busy")
	}
	addr, err := s.wallet.GetAddress(ctx)
	s.wallet.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		return models.Contact{}, fmt.Errorf("contact: %w", err)
	}

	return models.Contact{
		I2PAddress: s.i2p.Destination(),
		XMRAddress: addr.Address,
		NMPK:       s.keys.PublicHex(),
		IsVendor:   isVendor,
	}, nil
}

// AddContactRequest fetches a peer's shared identity over the hidden
// service so the user can add them.
func (s *Service) AddContactRequest(ctx context.Context, peer string) (models.Contact, error) {
	var c models.Contact
	if err := i2p.GetJSON(ctx, s.i2p, "http://"+peer+"/share", "", &c); err != nil {
		s.log.Error("failed to fetch contact info", "peer", peer, "error", err)
		return models.Contact{}, err
	}
	return c, nil
}

// RequestInvoice fetches a peer's payment invoice for JWP creation.
func (s *Service) RequestInvoice(ctx context.Context, peer string) (models.Invoice, error) {
	var inv models.Invoice
	if err := i2p.GetJSON(ctx, s.i2p, "http://"+peer+"/invoice", "", &inv); err != nil {
		s.log.Error("failed to fetch invoice", "peer", peer, "error", err)
		return models.Invoice{}, err
	}
	return inv, nil
}
