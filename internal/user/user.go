// Package user holds the local user records created on first login.
package user

import (
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Service manages User records.
type Service struct {
	db  *storage.DB
	log *logging.Logger
}

// NewService creates the user service.
func NewService(db *storage.DB) *Service {
	return &Service{db: db, log: logging.GetDefault().Component("user")}
}

// Create stores a new user bound to a wallet address.
func (s *Service) Create(address string) (models.User, error) {
	uid := models.UserDBKey + helpers.GenerateRnd()
	u := models.User{
		UID:        uid,
		XMRAddress: address,
	}
	if err := storage.PutJSON(s.db, uid, u); err != nil {
		return models.User{}, err
	}
	s.log.Debug("created user", "uid", helpers.ShortID(uid))
	return u, nil
}

// Find looks up a user by id.
func (s *Service) Find(uid string) (models.User, error) {
	if uid == "" {
		return models.User{}, storage.ErrNotFound
	}
	var u models.User
	if err := storage.GetJSON(s.db, uid, &u); err != nil {
		return models.User{}, err
	}
	return u, nil
}
