package wallet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neveko-market/nevekod/internal/config"
)

// GetVersion performs the get_version method.
func (c *Client) GetVersion(ctx context.Context) (*Version, error) {
	var out Version
	if err := c.call(ctx, "get_version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAddress returns the open wallet's primary address and subaddresses.
func (c *Client) GetAddress(ctx context.Context) (*Address, error) {
	var out Address
	params := map[string]interface{}{"account_index": 0}
	if err := c.call(ctx, "get_address", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateAddress checks an address against the wallet daemon.
func (c *Client) ValidateAddress(ctx context.Context, address string) (*AddressValidation, error) {
	var out AddressValidation
	params := map[string]interface{}{"address": address}
	if err := c.call(ctx, "validate_address", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBalance returns the open wallet's balance for account 0. It does not
// refresh the wallet first.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var out Balance
	params := map[string]interface{}{"account_index": 0, "all_accounts": false}
	if err := c.call(ctx, "get_balance", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAddress creates a new subaddress on the open wallet.
func (c *Client) CreateAddress(ctx context.Context) (*CreatedAddress, error) {
	var out CreatedAddress
	params := map[string]interface{}{"account_index": 0}
	if err := c.call(ctx, "create_address", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer sends amount atomic units to dest with the fixed ring size.
func (c *Client) Transfer(ctx context.Context, dest string, amount uint64) (*TransferResult, error) {
	var out TransferResult
	params := map[string]interface{}{
		"destinations": []map[string]interface{}{
			{"address": dest, "amount": amount},
		},
		"account_index": 0,
		"priority":      0,
		"ring_size":     config.RingSize,
		"get_tx_key":    true,
	}
	if err := c.call(ctx, "transfer", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SweepAll sends the wallet's entire balance to dest.
func (c *Client) SweepAll(ctx context.Context, dest string) (*SweepAllResult, error) {
	var out SweepAllResult
	params := map[string]interface{}{"address": dest}
	if err := c.call(ctx, "sweep_all", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWallet creates a wallet file. An empty password is allowed; the
// order wallets rely on it.
func (c *Client) CreateWallet(ctx context.Context, name, password string) error {
	params := map[string]interface{}{
		"filename": name,
		"password": password,
		"language": "English",
	}
	return c.call(ctx, "create_wallet", params, nil)
}

// OpenWallet opens a wallet file, acquiring the process-wide permit.
// Returns false without calling the daemon when another wallet is open.
// Callers MUST pair every successful open with CloseWallet on all exit
// paths.
func (c *Client) OpenWallet(ctx context.Context, name, password string) bool {
	if !c.acquire() {
		c.log.Debug("wallet is busy", "filename", name)
		return false
	}
	params := map[string]interface{}{"filename": name, "password": password}
	if err := c.call(ctx, "open_wallet", params, nil); err != nil {
		c.log.Error("failed to open wallet", "filename", name, "error", err)
		c.release()
		return false
	}
	return true
}

// CloseWallet closes the open wallet file and always clears the busy
// permit, even when the daemon call fails.
func (c *Client) CloseWallet(ctx context.Context, name, password string) bool {
	defer c.release()
	if err := c.call(ctx, "close_wallet", nil, nil); err != nil {
		c.log.Error("failed to close wallet", "filename", name, "error", err)
		return false
	}
	return true
}

// Verify checks a wallet signature over data for the given address.
func (c *Client) Verify(ctx context.Context, address, data, signature string) bool {
	var out SignatureVerification
	params := map[string]interface{}{
		"address":   address,
		"data":      data,
		"signature": signature,
	}
	if err := c.call(ctx, "verify", params, &out); err != nil {
		c.log.Error("failed to verify signature", "error", err)
		return false
	}
	return out.Good
}

// Sign signs data with the open wallet's spend key.
func (c *Client) Sign(ctx context.Context, data string) (string, error) {
	var out struct {
		Signature string `json:"signature"`
	}
	params := map[string]interface{}{"data": data}
	if err := c.call(ctx, "sign", params, &out); err != nil {
		return "", err
	}
	return out.Signature, nil
}

// GetTxProof generates a proof for a transaction paying subaddress.
func (c *Client) GetTxProof(ctx context.Context, subaddress, txid, message string) (*TxProofSignature, error) {
	var out TxProofSignature
	params := map[string]interface{}{
		"address": subaddress,
		"txid":    txid,
		"message": message,
	}
	if err := c.call(ctx, "get_tx_proof", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckTxProof validates a transaction proof.
func (c *Client) CheckTxProof(ctx context.Context, subaddress, txid, message, signature string) (*TxProofCheck, error) {
	var out TxProofCheck
	params := map[string]interface{}{
		"address":   subaddress,
		"txid":      txid,
		"message":   message,
		"signature": signature,
	}
	if err := c.call(ctx, "check_tx_proof", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransferByTxID looks up a transfer on the open wallet.
func (c *Client) GetTransferByTxID(ctx context.Context, txid string) (*TransferByTxID, error) {
	var out TransferByTxID
	params := map[string]interface{}{"txid": txid}
	if err := c.call(ctx, "get_transfer_by_txid", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareMultisig performs the first step of multisig wallet setup.
func (c *Client) PrepareMultisig(ctx context.Context) (*MultisigInfo, error) {
	var out MultisigInfo
	params := map[string]interface{}{"enable_multisig_experimental": true}
	if err := c.call(ctx, "prepare_multisig", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MakeMultisig builds the 2-of-3 wallet from the other parties' prepare
// info.
func (c *Client) MakeMultisig(ctx context.Context, infos []string, password string) (*MadeMultisig, error) {
	var out MadeMultisig
	params := map[string]interface{}{
		"multisig_info": infos,
		"threshold":     2,
		"password":      password,
	}
	if err := c.call(ctx, "make_multisig", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExchangeMultisigKeys runs one key-exchange round.
func (c *Client) ExchangeMultisigKeys(ctx context.Context, infos []string, password string, force bool) (*ExchangedMultisigKeys, error) {
	var out ExchangedMultisigKeys
	params := map[string]interface{}{
		"multisig_info":                 infos,
		"password":                      password,
		"force_update_use_with_caution": force,
	}
	if err := c.call(ctx, "exchange_multisig_keys", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportMultisigInfo exports partial key images for the counterparties.
func (c *Client) ExportMultisigInfo(ctx context.Context) (*MultisigInfo, error) {
	var out MultisigInfo
	if err := c.call(ctx, "export_multisig_info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ImportMultisigInfo imports the counterparties' partial key images.
func (c *Client) ImportMultisigInfo(ctx context.Context, infos []string) (*ImportedMultisigInfo, error) {
	var out ImportedMultisigInfo
	params := map[string]interface{}{"info": infos}
	if err := c.call(ctx, "import_multisig_info", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignMultisig signs a multisig transaction set.
func (c *Client) SignMultisig(ctx context.Context, txDataHex string) (*SignedMultisig, error) {
	var out SignedMultisig
	params := map[string]interface{}{"tx_data_hex": txDataHex}
	if err := c.call(ctx, "sign_multisig", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitMultisig broadcasts a signed multisig transaction set.
func (c *Client) SubmitMultisig(ctx context.Context, txDataHex string) (*SubmittedMultisig, error) {
	var out SubmittedMultisig
	params := map[string]interface{}{"tx_data_hex": txDataHex}
	if err := c.call(ctx, "submit_multisig", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DescribeTransfer decodes an unsigned txset without signing it.
func (c *Client) DescribeTransfer(ctx context.Context, multisigTxset string) (*DescribedTransfer, error) {
	var out DescribedTransfer
	params := map[string]interface{}{"multisig_txset": multisigTxset}
	if err := c.call(ctx, "describe_transfer", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableExperimentalMultisig writes the experimental multisig flag into
// the per-wallet rpc configuration so the daemon accepts multisig calls
// on the order wallet.
func (c *Client) EnableExperimentalMultisig(dataDir, walletName string) error {
	path := filepath.Join(dataDir, "wallet", walletName+".conf")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create wallet dir: %w", err)
	}
	return os.WriteFile(path, []byte("enable-multisig-experimental=1\n"), 0600)
}
