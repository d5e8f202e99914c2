// Package server - internal admin surface.
//
// These endpoints serve the local UI, not peers. In development the
// bearer guard always passes; in production they require a token header
// carrying a JWT bound to the app wallet address.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/neveko-market/nevekod/internal/message"
	"github.com/neveko-market/nevekod/internal/models"
)

// registerAdmin wires the internal surface onto the mux.
func (s *Server) registerAdmin(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/login", s.handleLogin)
	mux.HandleFunc("GET /admin/contacts", s.bearer(s.handleContactList))
	mux.HandleFunc("POST /admin/contacts", s.bearer(s.handleContactAdd))
	mux.HandleFunc("GET /admin/messages", s.bearer(s.handleMessageList))
	mux.HandleFunc("POST /admin/messages", s.bearer(s.handleMessageSend))
	mux.HandleFunc("GET /admin/messages/{mid}/decipher", s.bearer(s.handleMessageDecipher))
	mux.HandleFunc("POST /admin/products", s.bearer(s.handleProductCreate))
	mux.HandleFunc("POST /admin/products/update", s.bearer(s.handleProductUpdate))
	mux.HandleFunc("GET /admin/orders", s.bearer(s.handleOrderList))
	mux.HandleFunc("POST /admin/orders/{orid}/ship", s.bearer(s.handleOrderShip))
	mux.HandleFunc("POST /admin/orders/{orid}/finalize", s.bearer(s.handleOrderFinalize))
	mux.HandleFunc("POST /admin/orders/{orid}/cancel", s.bearer(s.handleOrderCancel))
}

// bearer wraps a handler with the internal token guard.
func (s *Server) bearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auths.VerifyBearer(r.Context(), r.Header.Get("token")); err != nil {
			s.writeError(w, err)
			return
		}
		next(w, r)
	}
}

// loginRequest is the signature challenge response.
type loginRequest struct {
	AID       string `json:"aid"`
	UID       string `json:"uid"`
	Signature string `json:"signature"`
}

// handleLogin runs the wallet signature challenge.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed login"})
		return
	}
	a, err := s.auths.VerifyLogin(r.Context(), req.AID, req.UID, req.Signature)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleContactList(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.FindAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	s.writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) handleContactAdd(w http.ResponseWriter, r *http.Request) {
	var c models.Contact
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed contact"})
		return
	}
	created, err := s.contacts.Create(r.Context(), &c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	messages, err := s.messages.FindAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

// sendRequest is an outbound message plus the peer's JWP.
type sendRequest struct {
	Message models.Message `json:"message"`
	Jwp     string         `json:"jwp"`
	Msig    bool           `json:"msig"`
}

func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed message"})
		return
	}
	mType := message.Normal
	if req.Msig {
		mType = message.Multisig
	}
	m, err := s.messages.Create(r.Context(), req.Message, req.Jwp, mType)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleMessageDecipher(w http.ResponseWriter, r *http.Request) {
	body, err := s.messages.DecipherBody(r.PathValue("mid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleProductCreate(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed product"})
		return
	}
	created, err := s.products.Create(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleProductUpdate(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed product"})
		return
	}
	updated, err := s.products.Modify(p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleOrderList(w http.ResponseWriter, r *http.Request) {
	orders, err := s.orders.FindAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

// shipRequest carries the delivery details released on settlement.
type shipRequest struct {
	DeliveryInfo string `json:"delivery_info"`
}

func (s *Server) handleOrderShip(w http.ResponseWriter, r *http.Request) {
	orid := r.PathValue("orid")
	funded, err := s.orders.ValidateOrderForShip(r.Context(), orid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !funded {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "escrow not funded"})
		return
	}
	var req shipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed ship request"})
		return
	}
	if err := s.orders.UploadDeliveryInfo(r.Context(), s.keys, orid, []byte(req.DeliveryInfo)); err != nil {
		s.writeError(w, err)
		return
	}
	s.wsHub.Broadcast(EventOrderUpdated, map[string]string{"orid": orid, "status": models.StatusShipped})
	s.writeJSON(w, http.StatusOK, map[string]string{"orid": orid, "status": models.StatusShipped})
}

func (s *Server) handleOrderFinalize(w http.ResponseWriter, r *http.Request) {
	orid := r.PathValue("orid")
	resp, err := s.orders.FinalizeOrder(r.Context(), orid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.wsHub.Broadcast(EventOrderUpdated, map[string]string{"orid": orid, "status": models.StatusDelivered})
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOrderCancel(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Cancel(r.PathValue("orid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.wsHub.Broadcast(EventOrderUpdated, map[string]string{"orid": o.OrID, "status": o.Status})
	s.writeJSON(w, http.StatusOK, o)
}
