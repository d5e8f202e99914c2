// Package server publishes the peer surface over the hidden-service
// transport: identity sharing, payment proofs, message receipt, multisig
// coordination and the market endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neveko-market/nevekod/internal/auth"
	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/contact"
	"github.com/neveko-market/nevekod/internal/dispute"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/message"
	"github.com/neveko-market/nevekod/internal/neveko25519"
	"github.com/neveko-market/nevekod/internal/order"
	"github.com/neveko-market/nevekod/internal/product"
	"github.com/neveko-market/nevekod/internal/proof"
	"github.com/neveko-market/nevekod/internal/storage"
	"github.com/neveko-market/nevekod/internal/wallet"
	"github.com/neveko-market/nevekod/pkg/logging"
)

// Server hosts the peer surface.
type Server struct {
	cfg      *config.Config
	wallet   *wallet.Client
	i2p      *i2p.Client
	auths    *auth.Service
	contacts *contact.Service
	proofs   *proof.Service
	messages *message.Service
	products *product.Service
	orders   *order.Service
	disputes *dispute.Service
	keys     *neveko25519.KeyPair
	log      *logging.Logger
	wsHub    *WSHub

	server   *http.Server
	listener net.Listener
}

// Deps groups the services the server publishes.
type Deps struct {
	Config   *config.Config
	Wallet   *wallet.Client
	I2P      *i2p.Client
	Auth     *auth.Service
	Contacts *contact.Service
	Proofs   *proof.Service
	Messages *message.Service
	Products *product.Service
	Orders   *order.Service
	Disputes *dispute.Service
	Keys     *neveko25519.KeyPair
}

// NewServer creates the peer surface server.
func NewServer(d Deps) *Server {
	return &Server{
		cfg:      d.Config,
		wallet:   d.Wallet,
		i2p:      d.I2P,
		auths:    d.Auth,
		contacts: d.Contacts,
		proofs:   d.Proofs,
		messages: d.Messages,
		products: d.Products,
		orders:   d.Orders,
		disputes: d.Disputes,
		keys:     d.Keys,
		log:      logging.GetDefault().Component("server"),
	}
}

// Start begins serving on addr.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.wsHub = NewWSHub()
	go s.wsHub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /share", s.handleShare)
	mux.HandleFunc("GET /invoice", s.handleInvoice)
	mux.HandleFunc("POST /prove", s.handleProve)
	mux.HandleFunc("GET /i2p/status", s.handleI2PStatus)
	mux.HandleFunc("GET /xmr/rpc/version", s.guarded(s.handleVersion))
	mux.HandleFunc("POST /message/rx", s.guarded(s.handleMessageRx))
	mux.HandleFunc("POST /message/rx/multisig", s.guarded(s.handleMessageRxMultisig))
	mux.HandleFunc("POST /multisig/info", s.guarded(s.handleMultisigInfo))
	mux.HandleFunc("POST /market/order/create", s.guarded(s.handleOrderCreate))
	mux.HandleFunc("POST /market/dispute/create", s.guarded(s.handleDisputeCreate))
	mux.HandleFunc("GET /market/products", s.guarded(s.handleProducts))
	mux.HandleFunc("GET /market/{pid}", s.guarded(s.handleProduct))
	mux.HandleFunc("GET /ws", s.handleWS)
	s.registerAdmin(mux)

	s.server = &http.Server{
		Handler:      s.logMiddleware(mux),
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 2 * time.Minute,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()

	s.log.Info("peer surface started", "addr", addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Hub returns the event hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// guarded wraps a handler with the JWP payment gate. Missing or invalid
// proofs answer 402 Payment Required; expired proofs answer 401.
func (s *Server) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jwp := r.Header.Get(i2p.ProofHeader)
		if err := s.proofs.VerifyJwp(r.Context(), jwp); err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r)
	}
}

// logMiddleware tags every request with an id for correlation.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.New().String()
		s.log.Debug("request", "rid", rid[:8], "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// writeJSON answers with a JSON body and status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps core errors onto the peer surface status semantics.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, proof.ErrProofMissing), errors.Is(err, proof.ErrProofInvalid):
		status = http.StatusPaymentRequired
	case errors.Is(err, proof.ErrProofExpired),
		errors.Is(err, auth.ErrTokenMissing),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrTokenInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, contact.ErrInvalid),
		errors.Is(err, message.ErrInvalid),
		errors.Is(err, message.ErrUnknownPeer),
		errors.Is(err, message.ErrMsigMalformed),
		errors.Is(err, product.ErrInvalid),
		errors.Is(err, product.ErrInUse),
		errors.Is(err, order.ErrNotFunded):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, message.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound):
		status = http.StatusNotFound
	default:
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
