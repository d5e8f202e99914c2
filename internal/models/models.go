// Package models defines the entities persisted in the key-value store
// and exchanged on the peer surface.
package models

import (
	"encoding/json"
	"math/big"
)

// Contact is a peer identity record. Read-only after creation.
type Contact struct {
	CID        string `json:"cid"`
	I2PAddress string `json:"i2p_address"`
	XMRAddress string `json:"xmr_address"`
	// NMPK is the peer's 32-byte curve-25519 message public key, hex.
	NMPK     string `json:"nmpk"`
	IsVendor bool   `json:"is_vendor"`
}

// Authorization holds the internal login challenge state for an address.
type Authorization struct {
	AID     string `json:"aid"`
	Created int64  `json:"created"`
	UID     string `json:"uid"`
	// Rnd is the random nonce the wallet must sign on login.
	Rnd        string `json:"rnd"`
	Token      string `json:"token"`
	XMRAddress string `json:"xmr_address"`
}

// User is created after the first successful signature check.
type User struct {
	UID        string `json:"uid"`
	XMRAddress string `json:"xmr_address"`
	Name       string `json:"name"`
}

// Message is an enciphered peer-to-peer message. Body holds the hex wire
// form of the ciphertext.
type Message struct {
	MID     string `json:"mid"`
	UID     string `json:"uid"`
	From    string `json:"from"`
	To      string `json:"to"`
	Body    string `json:"body"`
	Created int64  `json:"created"`
}

// Order tracks an escrow purchase through the multisig lifecycle. Each
// multisig artifact has a per-party slot.
type Order struct {
	OrID string `json:"orid"`
	// CID is the customer's .b32.i2p address.
	CID           string `json:"cid"`
	PID           string `json:"pid"`
	AdjudicatorID string `json:"adjudicator"`
	Quantity      uint64 `json:"quantity"`

	CustPrepareInfo string `json:"cust_msig_prepare"`
	VendPrepareInfo string `json:"vend_msig_prepare"`
	AdjPrepareInfo  string `json:"adj_msig_prepare"`
	CustMakeInfo    string `json:"cust_msig_make"`
	VendMakeInfo    string `json:"vend_msig_make"`
	AdjMakeInfo     string `json:"adj_msig_make"`
	CustKexOneInfo  string `json:"cust_kex_1"`
	VendKexOneInfo  string `json:"vend_kex_1"`
	AdjKexOneInfo   string `json:"adj_kex_1"`
	CustKexTwoInfo  string `json:"cust_kex_2"`
	VendKexTwoInfo  string `json:"vend_kex_2"`
	AdjKexTwoInfo   string `json:"adj_kex_2"`
	CustKexThree    string `json:"cust_kex_3"`
	VendKexThree    string `json:"vend_kex_3"`
	AdjKexThree     string `json:"adj_kex_3"`
	SignedTxSet     string `json:"signed_txset"`

	// ShipAddress is enciphered before it ever reaches the vendor.
	ShipAddress string `json:"ship_address"`
	// Subaddress is the fresh funding subaddress created on the app wallet.
	Subaddress  string `json:"subaddress"`
	Status      string `json:"status"`
	Date        int64  `json:"date"`
	ShipDate    int64  `json:"ship_date"`
	DeliverDate int64  `json:"deliver_date"`
	Hash        string `json:"hash"`
}

// Product is a vendor listing. Price is in atomic units.
type Product struct {
	PID         string   `json:"pid"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Image       []byte   `json:"image"`
	Price       *big.Int `json:"price"`
	Qty         uint64   `json:"qty"`
	InStock     bool     `json:"in_stock"`
}

// productJSON carries Price as a decimal string so 128-bit amounts
// survive JSON transport.
type productJSON struct {
	PID         string `json:"pid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       []byte `json:"image"`
	Price       string `json:"price"`
	Qty         uint64 `json:"qty"`
	InStock     bool   `json:"in_stock"`
}

// MarshalJSON implements json.Marshaler.
func (p Product) MarshalJSON() ([]byte, error) {
	price := "0"
	if p.Price != nil {
		price = p.Price.String()
	}
	return json.Marshal(productJSON{
		PID:         p.PID,
		Name:        p.Name,
		Description: p.Description,
		Image:       p.Image,
		Price:       price,
		Qty:         p.Qty,
		InStock:     p.InStock,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Product) UnmarshalJSON(data []byte) error {
	var raw productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, ok := new(big.Int).SetString(raw.Price, 10)
	if !ok {
		price = big.NewInt(0)
	}
	p.PID = raw.PID
	p.Name = raw.Name
	p.Description = raw.Description
	p.Image = raw.Image
	p.Price = price
	p.Qty = raw.Qty
	p.InStock = raw.InStock
	return nil
}

// Dispute stages an unsigned multisig txset for adjudicator settlement.
type Dispute struct {
	DID     string `json:"did"`
	Created int64  `json:"created"`
	OrID    string `json:"orid"`
	TxSet   string `json:"tx_set"`
}

// TxProof is the on-chain payment proof a peer submits to obtain a JWP.
type TxProof struct {
	Subaddress    string `json:"subaddress"`
	Hash          string `json:"hash"`
	Message       string `json:"message"`
	Signature     string `json:"signature"`
	Confirmations uint64 `json:"confirmations"`
}

// Invoice tells a peer where and how much to pay for access.
type Invoice struct {
	Address       string `json:"address"`
	PayThreshold  string `json:"pay_threshold"`
	ConfThreshold uint64 `json:"conf_threshold"`
}

// Jwp wraps an issued proof-of-payment token.
type Jwp struct {
	Jwp string `json:"jwp"`
}

// OrderRequest is the customer's create-order call body.
type OrderRequest struct {
	CID         string `json:"cid"`
	PID         string `json:"pid"`
	Adjudicator string `json:"adjudicator"`
	ShipAddress string `json:"ship_address"`
	Quantity    uint64 `json:"quantity"`
}

// MultisigInfoRequest drives one step of the three-way key exchange.
type MultisigInfoRequest struct {
	Contact string `json:"contact"`
	// Info holds the opposing parties' artifacts for this step.
	Info []string `json:"info"`
	// InitAdjudicator is set on the first call so the vendor spawns the
	// adjudicator's order wallet.
	InitAdjudicator bool   `json:"init_adjudicator"`
	KexInit         bool   `json:"kex_init"`
	MsigType        string `json:"msig_type"`
	OrID            string `json:"orid"`
}

// DecipheredMessageBody pairs a message id with its deciphered body.
type DecipheredMessageBody struct {
	MID  string `json:"mid"`
	Body string `json:"body"`
}

// FinalizeOrderResponse releases delivery info to the customer once the
// signed txset clears.
type FinalizeOrderResponse struct {
	OrID         string `json:"orid"`
	DeliveryInfo []byte `json:"delivery_info"`
}

// I2PStatus is the router connectivity report.
type I2PStatus struct {
	Open bool   `json:"open"`
	Msg  string `json:"msg"`
}
