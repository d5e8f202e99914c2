package server

import (
	"encoding/json"
	"net/http"

	"github.com/neveko-market/nevekod/internal/config"
	"github.com/neveko-market/nevekod/internal/i2p"
	"github.com/neveko-market/nevekod/internal/models"
	"github.com/neveko-market/nevekod/internal/wallet"
)

// handleShare answers with this node's identity record, cid omitted.
func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	c, err := s.contacts.Share(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

// handleInvoice answers with fresh payment terms.
func (s *Server) handleInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.proofs.CreateInvoice(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inv)
}

// handleProve validates a transaction proof and issues a JWP.
func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
	var txp models.TxProof
	if err := json.NewDecoder(r.Body).Decode(&txp); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed proof"})
		return
	}
	jwp, err := s.proofs.CreateJwp(r.Context(), &txp)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, models.Jwp{Jwp: jwp})
}

// handleVersion is the liveness echo: peers probe it before sending.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	walletName := config.AppName
	v := wallet.Version{Version: wallet.InvalidVersion}
	if s.wallet.OpenWallet(r.Context(), walletName, s.cfg.WalletPassword()) {
		if out, err := s.wallet.GetVersion(r.Context()); err == nil {
			v = *out
		}
		s.wallet.CloseWallet(r.Context(), walletName, s.cfg.WalletPassword())
	}
	s.writeJSON(w, http.StatusOK, v)
}

// handleI2PStatus surfaces the router connectivity state.
func (s *Server) handleI2PStatus(w http.ResponseWriter, r *http.Request) {
	status := s.i2p.Status(r.Context())
	s.writeJSON(w, http.StatusOK, models.I2PStatus{
		Open: status == i2p.StatusOpen,
		Msg:  status,
	})
}

// handleMessageRx receives a plain enciphered message.
func (s *Server) handleMessageRx(w http.ResponseWriter, r *http.Request) {
	var m models.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed message"})
		return
	}
	if err := s.messages.Rx(m); err != nil {
		s.writeError(w, err)
		return
	}
	s.wsHub.Broadcast(EventMessageReceived, map[string]string{"from": m.From})
	s.writeJSON(w, http.StatusOK, models.Message{})
}

// handleMessageRxMultisig receives a multisig coordination message.
func (s *Server) handleMessageRxMultisig(w http.ResponseWriter, r *http.Request) {
	var m models.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed message"})
		return
	}
	if err := s.messages.RxMultisig(m); err != nil {
		s.writeError(w, err)
		return
	}
	s.wsHub.Broadcast(EventMessageReceived, map[string]string{"from": m.From, "multisig": "1"})
	s.writeJSON(w, http.StatusOK, models.Message{})
}

// handleMultisigInfo runs one step of the key exchange for the caller.
func (s *Server) handleMultisigInfo(w http.ResponseWriter, r *http.Request) {
	var req models.MultisigInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return
	}
	o, err := s.orders.ProcessMultisigInfo(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o)
}

// handleOrderCreate builds a new order for the requesting customer.
func (s *Server) handleOrderCreate(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed order request"})
		return
	}
	o, err := s.orders.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.wsHub.Broadcast(EventOrderCreated, map[string]string{"orid": o.OrID, "status": o.Status})
	s.writeJSON(w, http.StatusCreated, o)
}

// handleDisputeCreate stages a dispute for auto-settlement.
func (s *Server) handleDisputeCreate(w http.ResponseWriter, r *http.Request) {
	var d models.Dispute
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed dispute"})
		return
	}
	created, err := s.disputes.Create(r.Context(), d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.wsHub.Broadcast(EventDisputeCreated, map[string]string{"did": created.DID, "orid": created.OrID})
	s.writeJSON(w, http.StatusCreated, created)
}

// handleProducts lists all products.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.products.FindAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	s.writeJSON(w, http.StatusOK, products)
}

// handleProduct fetches one product by id.
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.products.Find(r.PathValue("pid"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}
