// Package product manages vendor listings.
package product

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Errors surfaced to the transport layer.
var (
	ErrInvalid  = errors.New("product: invalid product")
	ErrNotFound = errors.New("product: product not found")
	ErrInUse    = errors.New("product: referenced by open orders")
)

// Service manages products.
type Service struct {
	db  *storage.DB
	log *logging.Logger

	// inUse reports whether non-terminal orders reference a product.
	// Wired after construction to keep the order package decoupled.
	inUse func(pid string) bool
}

// NewService creates the product service.
func NewService(db *storage.DB) *Service {
	return &Service{db: db, log: logging.GetDefault().Component("product")}
}

// SetInUseCheck wires the open-order precondition for Modify.
func (s *Service) SetInUseCheck(f func(pid string) bool) {
	s.inUse = f
}

// Create validates and stores a new product.
func (s *Service) Create(p models.Product) (models.Product, error) {
	if err := validate(&p); err != nil {
		return models.Product{}, err
	}
	pid := models.ProductDBKey + helpers.GenerateRnd()
	s.log.Info("creating product", "pid", helpers.ShortID(pid))
	p.PID = pid
	if p.Price == nil {
		p.Price = big.NewInt(0)
	}
	if err := storage.PutJSON(s.db, pid, p); err != nil {
		return models.Product{}, err
	}
	if err := s.db.IndexAppend(models.ProductListDBKey, pid); err != nil {
		return models.Product{}, err
	}
	return p, nil
}

// validate checks field lengths against the DoS limits.
func validate(p *models.Product) error {
	if len(p.Name) >= models.StringLimit ||
		len(p.Description) >= models.StringLimit ||
		len(p.Image) >= models.ImageLimit {
		return ErrInvalid
	}
	return nil
}

// Find looks up a product by id.
func (s *Service) Find(pid string) (models.Product, error) {
	var p models.Product
	if err := storage.GetJSON(s.db, pid, &p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Product{}, ErrNotFound
		}
		return models.Product{}, err
	}
	return p, nil
}

// FindAll enumerates the product list.
func (s *Service) FindAll() ([]models.Product, error) {
	ids, err := s.db.IndexMembers(models.ProductListDBKey)
	if err != nil {
		return nil, err
	}
	var products []models.Product
	for _, id := range ids {
		p, err := s.Find(id)
		if err != nil {
			continue
		}
		if p.PID != "" {
			products = append(products, p)
		}
	}
	return products, nil
}

// Modify updates a product. Mutation is forbidden while non-terminal
// orders reference it.
func (s *Service) Modify(p models.Product) (models.Product, error) {
	existing, err := s.Find(p.PID)
	if err != nil {
		return models.Product{}, err
	}
	if s.inUse != nil && s.inUse(existing.PID) {
		return models.Product{}, ErrInUse
	}
	if err := validate(&p); err != nil {
		return models.Product{}, err
	}
	if err := storage.PutJSON(s.db, existing.PID, p); err != nil {
		return models.Product{}, fmt.Errorf("product: %w", err)
	}
	return p, nil
}
