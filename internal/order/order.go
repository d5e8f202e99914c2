// Package order implements the escrow order lifecycle: creation with a
// per-order multisig wallet, funding verification, shipment, settlement
// and cancellation.
package order

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/contact"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/message"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/product"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Errors surfaced to the transport layer.
var (
	ErrNotFound  = errors.New("order: order not found")
	ErrWallet    = errors.New("order: wallet operation failed")
	ErrNotFunded = errors.New("order: escrow not funded")
)

// Service manages orders.
type Service struct {
	db       *storage.DB
	wallet   *wallet.Client
	products *product.Service
	contacts *contact.Service
	messages *message.Service
	i2p      *i2p.Client
	cfg      *config.Config
	log      *logging.Logger
}

// NewService creates the order service.
func NewService(db *storage.DB, w *wallet.Client, products *product.Service, contacts *contact.Service, messages *message.Service, transport *i2p.Client, cfg *config.Config) *Service {
	return &Service{
		db:       db,
		wallet:   w,
		products: products,
		contacts: contacts,
		messages: messages,
		i2p:      transport,
		cfg:      cfg,
		log:      logging.GetDefault().Component("order"),
	}
}

// Create builds a new order on the vendor side: a fresh funding
// subaddress on the app wallet, an empty passwordless order wallet for
// the multisig flow, and a persisted record in MultisigMissing.
func (s *Service) Create(ctx context.Context, req models.OrderRequest) (models.Order, error) {
	s.log.Info("creating order")
	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return models.Order{}, fmt.Errorf("%w: wallet busy", ErrWallet)
	}
	subaddress, err := s.wallet.CreateAddress(ctx)
	s.wallet.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		return models.Order{}, fmt.Errorf("%w: %v", ErrWallet, err)
	}

	orid := models.OrderDBKey + helpers.GenerateRnd()
	if err := s.initOrderWallet(ctx, orid); err != nil {
		return models.Order{}, err
	}

	o := models.Order{
		OrID:          orid,
		CID:           req.CID,
		PID:           req.PID,
		AdjudicatorID: req.Adjudicator,
		Quantity:      req.Quantity,
		ShipAddress:   req.ShipAddress,
		Subaddress:    subaddress.Address,
		Status:        models.StatusMultisigMissing,
		Date:          time.Now().Unix(),
	}
	if err := storage.PutJSON(s.db, orid, o); err != nil {
		return models.Order{}, err
	}
	if err := s.db.IndexAppend(models.OrderListDBKey, orid); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// initOrderWallet creates the passwordless per-order wallet and enables
// experimental multisig on it.
func (s *Service) initOrderWallet(ctx context.Context, orid string) error {
	if err := s.wallet.CreateWallet(ctx, orid, ""); err != nil {
		return fmt.Errorf("%w: creating order wallet: %v", ErrWallet, err)
	}
	if err := s.wallet.EnableExperimentalMultisig(s.cfg.DataDir, orid); err != nil {
		return fmt.Errorf("%w: %v", ErrWallet, err)
	}
	return nil
}

// InitAdjudicatorWallet prepares an order wallet on the adjudicator's
// node when the customer pulls them into the key exchange.
func (s *Service) InitAdjudicatorWallet(ctx context.Context, orid string) error {
	return s.initOrderWallet(ctx, orid)
}

// Backup persists a customer-side copy of an order under the customer
// order index.
func (s *Service) Backup(o models.Order) error {
	s.log.Info("creating backup of order", "orid", helpers.ShortID(o.OrID))
	if err := storage.PutJSON(s.db, o.OrID, o); err != nil {
		return err
	}
	return s.db.IndexAppend(models.CustomerOrderListDBKey, o.OrID)
}

// Find looks up an order by id.
func (s *Service) Find(orid string) (models.Order, error) {
	var o models.Order
	if err := storage.GetJSON(s.db, orid, &o); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Order{}, ErrNotFound
		}
		return models.Order{}, err
	}
	return o, nil
}

// findAllIn enumerates one order index.
func (s *Service) findAllIn(listKey string) ([]models.Order, error) {
	ids, err := s.db.IndexMembers(listKey)
	if err != nil {
		return nil, err
	}
	var orders []models.Order
	for _, id := range ids {
		o, err := s.Find(id)
		if err != nil {
			continue
		}
		if o.OrID != "" {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// FindAll enumerates vendor-side orders.
func (s *Service) FindAll() ([]models.Order, error) {
	return s.findAllIn(models.OrderListDBKey)
}

// FindAllBackup enumerates the customer's saved orders.
func (s *Service) FindAllBackup() ([]models.Order, error) {
	return s.findAllIn(models.CustomerOrderListDBKey)
}

// FindAllByCustomer filters vendor-side orders by customer id.
func (s *Service) FindAllByCustomer(cid string) ([]models.Order, error) {
	all, err := s.FindAll()
	if err != nil {
		return nil, err
	}
	var orders []models.Order
	for _, o := range all {
		if o.CID == cid {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// Modify overwrites an existing order record.
func (s *Service) Modify(o models.Order) (models.Order, error) {
	existing, err := s.Find(o.OrID)
	if err != nil {
		return models.Order{}, err
	}
	if err := storage.PutJSON(s.db, existing.OrID, o); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

// Cancel marks an order as terminally cancelled.
func (s *Service) Cancel(orid string) (models.Order, error) {
	o, err := s.Find(orid)
	if err != nil {
		return models.Order{}, err
	}
	o.Status = models.StatusCancelled
	return s.Modify(o)
}

// HasOpenOrdersFor reports whether any non-terminal order references the
// product. Products under open escrow must not mutate.
func (s *Service) HasOpenOrdersFor(pid string) bool {
	all, err := s.FindAll()
	if err != nil {
		return false
	}
	for _, o := range all {
		if o.PID == pid && o.Status != models.StatusCancelled && o.Status != models.StatusDelivered {
			return true
		}
	}
	return false
}

// total computes price x quantity for an order's product.
func (s *Service) total(o *models.Order) (*big.Int, error) {
	p, err := s.products.Find(o.PID)
	if err != nil {
		return nil, err
	}
	price := p.Price
	if price == nil {
		price = big.NewInt(0)
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(o.Quantity)), nil
}

// SecureRetrieval returns an order only when the caller proves control
// of the customer's wallet by signing the order id.
func (s *Service) SecureRetrieval(ctx context.Context, orid, signature string) (models.Order, error) {
	o, err := s.Find(orid)
	if err != nil {
		return models.Order{}, err
	}
	customer, err := s.contacts.FindByI2PAddress(o.CID)
	if err != nil {
		return models.Order{}, fmt.Errorf("order: unknown customer %s", o.CID)
	}
	if !s.wallet.OpenWallet(ctx, orid, "") {
		return models.Order{}, fmt.Errorf("%w: wallet busy", ErrWallet)
	}
	valid := s.wallet.Verify(ctx, customer.XMRAddress, o.OrID, signature)
	s.wallet.CloseWallet(ctx, orid, "")
	if !valid {
		return models.Order{}, fmt.Errorf("order: invalid signature")
	}
	return o, nil
}

// TransmitOrderRequest sends a create-order request to the vendor and
// returns the created order for local backup.
func (s *Service) TransmitOrderRequest(ctx context.Context, peer, jwp string, req models.OrderRequest) (models.Order, error) {
	var out models.Order
	status, err := i2p.PostJSON(ctx, s.i2p, "http://"+peer+"/market/order/create", jwp, req, &out)
	if err != nil {
		s.log.Error("failed to generate order", "peer", peer, "error", err)
		return models.Order{}, err
	}
	if status < 200 || status >= 300 {
		return models.Order{}, fmt.Errorf("order: vendor returned status %d", status)
	}
	return out, nil
}
