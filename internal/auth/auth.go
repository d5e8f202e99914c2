// Package auth implements the internal authorization flow: a wallet
// signature challenge over random data, backed by HS384 bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/user"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/helpers"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Bearer guard errors, mapped to 401 by the transport layer.
var (
	ErrTokenMissing = errors.New("auth: token missing")
	ErrTokenExpired = errors.New("auth: token expired")
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// Service manages Authorization records and internal bearer tokens.
type Service struct {
	db     *storage.DB
	wallet *wallet.Client
	users  *user.Service
	cfg    *config.Config
	log    *logging.Logger

	// jwtKey is loaded once at startup and only changes through the
	// revoke path.
	jwtKey []byte
}

// NewService loads (or generates) the JWT signing key and returns the
// auth service.
func NewService(db *storage.DB, w *wallet.Client, users *user.Service, cfg *config.Config) (*Service, error) {
	key, err := loadOrCreateKey(db, models.JwtSecretKey)
	if err != nil {
		return nil, err
	}
	return &Service{
		db:     db,
		wallet: w,
		users:  users,
		cfg:    cfg,
		log:    logging.GetDefault().Component("auth"),
		jwtKey: key,
	}, nil
}

// loadOrCreateKey reads a signing secret from its reserved storage key,
// generating a fresh 256-bit value on first start.
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

// RevokeSigningKeys deletes both HMAC secrets. The next service start
// regenerates them, invalidating all outstanding tokens.
func RevokeSigningKeys(db *storage.DB) error {
	for _, k := range []string{models.JwtSecretKey, models.JwpSecretKey} {
		if err := db.Delete(k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// tokenTimeout returns the token lifetime in seconds.
func (s *Service) tokenTimeout() int64 {
	return s.cfg.TokenTimeout * 60
}

// CreateToken signs an HS384 token with claims {address, expiration}.
func (s *Service) CreateToken(address string, created int64) (string, error) {
	expiration := created + s.tokenTimeout()
	token := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.MapClaims{
		"address":    address,
		"expiration": strconv.FormatInt(expiration, 10),
	})
	return token.SignedString(s.jwtKey)
}

// ParseToken verifies the HMAC and returns the embedded claims.
func (s *Service) ParseToken(tokenStr string) (address string, expiration int64, err error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtKey, nil
	})
	if err != nil || !token.Valid {
		return "", 0, ErrTokenInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", 0, ErrTokenInvalid
	}
	address, _ = claims["address"].(string)
	expStr, _ := claims["expiration"].(string)
	expiration, err = strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, ErrTokenInvalid
	}
	return address, expiration, nil
}

// Create builds a fresh Authorization bound to address with new
// challenge data and token.
func (s *Service) Create(address string) (models.Authorization, error) {
	aid := models.AuthDBKey + helpers.GenerateRnd()
	created := time.Now().Unix()
	token, err := s.CreateToken(address, created)
	if err != nil {
		return models.Authorization{}, err
	}
	a := models.Authorization{
		AID:        aid,
		Created:    created,
		Rnd:        helpers.GenerateRnd(),
		Token:      token,
		XMRAddress: address,
	}
	if err := storage.PutJSON(s.db, aid, a); err != nil {
		return models.Authorization{}, err
	}
	s.log.Debug("created auth", "aid", helpers.ShortID(aid))
	return a, nil
}

// Find looks up an Authorization by id.
func (s *Service) Find(aid string) (models.Authorization, error) {
	var a models.Authorization
	if err := storage.GetJSON(s.db, aid, &a); err != nil {
		return models.Authorization{}, err
	}
	return a, nil
}

// updateExpiration refreshes challenge data, creation time and token.
func (s *Service) updateExpiration(a models.Authorization) (models.Authorization, error) {
	now := time.Now().Unix()
	token, err := s.CreateToken(a.XMRAddress, now)
	if err != nil {
		return a, err
	}
	a.Created = now
	a.Rnd = helpers.GenerateRnd()
	a.Token = token
	if err := storage.PutJSON(s.db, a.AID, a); err != nil {
		return a, err
	}
	return a, nil
}

// VerifyLogin checks a wallet signature over the stored challenge. A
// missing Authorization yields a fresh one to sign; a bad signature
// returns the existing record unchanged; a good signature binds the user
// (creating one on first login) and refreshes expired tokens.
func (s *Service) VerifyLogin(ctx context.Context, aid, uid, signature string) (models.Authorization, error) {
	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return models.Authorization{}, fmt.Errorf("auth: wallet busy")
	}
	defer s.wallet.CloseWallet(ctx, walletName, walletPassword)

	addr, err := s.wallet.GetAddress(ctx)
	if err != nil {
		return models.Authorization{}, fmt.Errorf("auth: %w", err)
	}
	address := addr.Address

	fAuth, err := s.Find(aid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.Create(address)
		}
		return models.Authorization{}, err
	}

	if !s.wallet.Verify(ctx, address, fAuth.Rnd, signature) {
		s.log.Error("signature validation failed")
		return fAuth, nil
	}

	fUser, err := s.users.Find(uid)
	if err != nil || fUser.XMRAddress == "" {
		s.log.Info("creating new user")
		u, err := s.users.Create(address)
		if err != nil {
			return models.Authorization{}, err
		}
		fAuth.UID = u.UID
		if err := storage.PutJSON(s.db, fAuth.AID, fAuth); err != nil {
			return models.Authorization{}, err
		}
		return fAuth, nil
	}

	s.log.Info("returning user")
	refreshed, err := s.verifyAccess(ctx, address, signature, fAuth)
	if err != nil {
		return models.Authorization{}, err
	}
	return refreshed, nil
}

// verifyAccess refreshes the challenge when the token window lapsed and
// re-checks the signature otherwise.
func (s *Service) verifyAccess(ctx context.Context, address, signature string, a models.Authorization) (models.Authorization, error) {
	now := time.Now().Unix()
	if now > a.Created+s.tokenTimeout() {
		s.log.Debug("auth expired, refreshing challenge")
		return s.updateExpiration(a)
	}
	if !s.wallet.Verify(ctx, address, a.Rnd, signature) {
		s.log.Debug("signing failed")
		return models.Authorization{}, ErrTokenInvalid
	}
	return a, nil
}

// VerifyBearer guards the internal micro-server surface. Development
// always passes; production requires a token whose address claim matches
// the app wallet and whose expiration is in the future.
func (s *Service) VerifyBearer(ctx context.Context, tokenStr string) error {
	if !s.cfg.IsProduction() {
		return nil
	}
	if tokenStr == "" {
		return ErrTokenMissing
	}

	walletName := config.AppName
	walletPassword := s.cfg.WalletPassword()
	if !s.wallet.OpenWallet(ctx, walletName, walletPassword) {
		return ErrTokenInvalid
	}
	addr, err := s.wallet.GetAddress(ctx)
	s.wallet.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		return ErrTokenInvalid
	}

	address, expiration, err := s.ParseToken(tokenStr)
	if err != nil {
		return err
	}
	if address != addr.Address {
		return ErrTokenInvalid
	}
	if time.Now().Unix() > expiration {
		return ErrTokenExpired
	}
	return nil
}
