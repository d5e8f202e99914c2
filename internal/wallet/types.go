package wallet

// Result shapes for the monero-wallet-rpc and monerod methods the core
// consumes. Fields map 1:1 to the daemon's published schema.

// Version is the get_version result.
type Version struct {
	Version uint32 `json:"version"`
}

// SubaddressInfo is one entry of the get_address result.
type SubaddressInfo struct {
	Address      string `json:"address"`
	AddressIndex uint64 `json:"address_index"`
	Label        string `json:"label"`
	Used         bool   `json:"used"`
}

// Address is the get_address result.
type Address struct {
	Address   string           `json:"address"`
	Addresses []SubaddressInfo `json:"addresses"`
}

// CreatedAddress is the create_address result.
type CreatedAddress struct {
	Address      string `json:"address"`
	AddressIndex uint64 `json:"address_index"`
}

// AddressValidation is the validate_address result.
type AddressValidation struct {
	Valid      bool   `json:"valid"`
	Integrated bool   `json:"integrated"`
	Subaddress bool   `json:"subaddress"`
	Nettype    string `json:"nettype"`
	OpenAlias  bool   `json:"openalias_address"`
}

// Balance is the get_balance result.
type Balance struct {
	Balance              uint64 `json:"balance"`
	UnlockedBalance      uint64 `json:"unlocked_balance"`
	BlocksToUnlock       uint64 `json:"blocks_to_unlock"`
	MultisigImportNeeded bool   `json:"multisig_import_needed"`
	TimeToUnlock         uint64 `json:"time_to_unlock"`
}

// TransferResult is the transfer result.
type TransferResult struct {
	Amount        uint64 `json:"amount"`
	Fee           uint64 `json:"fee"`
	MultisigTxset string `json:"multisig_txset"`
	TxHash        string `json:"tx_hash"`
	TxKey         string `json:"tx_key"`
	UnsignedTxset string `json:"unsigned_txset"`
}

// SweepAllResult is the sweep_all result.
type SweepAllResult struct {
	AmountList    []uint64 `json:"amount_list"`
	FeeList       []uint64 `json:"fee_list"`
	TxHashList    []string `json:"tx_hash_list"`
	MultisigTxset string   `json:"multisig_txset"`
	UnsignedTxset string   `json:"unsigned_txset"`
}

// SignatureVerification is the verify result.
type SignatureVerification struct {
	Good bool `json:"good"`
}

// TxProofSignature is the get_tx_proof result.
type TxProofSignature struct {
	Signature string `json:"signature"`
}

// TxProofCheck is the check_tx_proof result.
type TxProofCheck struct {
	Good          bool   `json:"good"`
	Confirmations uint64 `json:"confirmations"`
	InPool        bool   `json:"in_pool"`
	Received      uint64 `json:"received"`
}

// Transfer is a single transfer record of get_transfer_by_txid.
type Transfer struct {
	Address       string `json:"address"`
	Amount        uint64 `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
	Fee           uint64 `json:"fee"`
	Height        uint64 `json:"height"`
	Timestamp     uint64 `json:"timestamp"`
	TxID          string `json:"txid"`
	// Type is one of in, out, pending, failed, pool.
	Type       string `json:"type"`
	UnlockTime uint64 `json:"unlock_time"`
}

// Propagated reports whether a transfer type means the transaction is on
// chain (not pending, not failed, not sitting in the pool).
func (t Transfer) Propagated() bool {
	return t.Type == "in" || t.Type == "out"
}

// TransferByTxID is the get_transfer_by_txid result.
type TransferByTxID struct {
	Transfer Transfer `json:"transfer"`
}

// MultisigInfo is the prepare_multisig / export_multisig_info result.
type MultisigInfo struct {
	MultisigInfo string `json:"multisig_info"`
	Info         string `json:"info"`
}

// MadeMultisig is the make_multisig result.
type MadeMultisig struct {
	Address      string `json:"address"`
	MultisigInfo string `json:"multisig_info"`
}

// ExchangedMultisigKeys is the exchange_multisig_keys result.
type ExchangedMultisigKeys struct {
	Address      string `json:"address"`
	MultisigInfo string `json:"multisig_info"`
}

// ImportedMultisigInfo is the import_multisig_info result.
type ImportedMultisigInfo struct {
	NOutputs uint64 `json:"n_outputs"`
}

// SignedMultisig is the sign_multisig result.
type SignedMultisig struct {
	TxDataHex  string   `json:"tx_data_hex"`
	TxHashList []string `json:"tx_hash_list"`
}

// SubmittedMultisig is the submit_multisig result.
type SubmittedMultisig struct {
	TxHashList []string `json:"tx_hash_list"`
}

// TransferDescription is one entry of the describe_transfer result.
type TransferDescription struct {
	AmountIn   uint64 `json:"amount_in"`
	AmountOut  uint64 `json:"amount_out"`
	Fee        uint64 `json:"fee"`
	UnlockTime uint64 `json:"unlock_time"`
	RingSize   uint64 `json:"ring_size"`
	Recipients []struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
	} `json:"recipients"`
}

// DescribedTransfer is the describe_transfer result.
type DescribedTransfer struct {
	Desc []TransferDescription `json:"desc"`
}

// DaemonInfo is the daemon get_info result (fields the core reads).
type DaemonInfo struct {
	Height              uint64 `json:"height"`
	Synchronized        bool   `json:"synchronized"`
	TargetHeight        uint64 `json:"target_height"`
	TopBlockHash        string `json:"top_block_hash"`
	Version             string `json:"version"`
	Offline             bool   `json:"offline"`
	Nettype             string `json:"nettype"`
	IncomingConnections uint64 `json:"incoming_connections_count"`
	OutgoingConnections uint64 `json:"outgoing_connections_count"`
}

// DaemonHeight is the daemon get_height response.
type DaemonHeight struct {
	Height uint64 `json:"height"`
	Status string `json:"status"`
}

// BlockHeader is the header portion of the get_block result.
type BlockHeader struct {
	Hash      string `json:"hash"`
	Height    uint64 `json:"height"`
	NumTxes   uint64 `json:"num_txes"`
	PrevHash  string `json:"prev_hash"`
	Reward    uint64 `json:"reward"`
	Timestamp uint64 `json:"timestamp"`
}

// Block is the daemon get_block result.
type Block struct {
	Blob        string      `json:"blob"`
	BlockHeader BlockHeader `json:"block_header"`
	JSON        string      `json:"json"`
	TxHashes    []string    `json:"tx_hashes"`
}

// Transactions is the daemon get_transactions response.
type Transactions struct {
	Status     string   `json:"status"`
	TxsAsJSON  []string `json:"txs_as_json"`
	MissedTxes []string `json:"missed_tx"`
}
