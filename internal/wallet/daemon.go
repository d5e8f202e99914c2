package wallet

import (
	"context"
	"strconv"
	"strings"
)

// GetInfo performs the daemon get_info method.
func (c *Client) GetInfo(ctx context.Context) (*DaemonInfo, error) {
	var out DaemonInfo
	if err := c.daemonCall(ctx, "get_info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetHeight returns the daemon's current chain height.
func (c *Client) GetHeight(ctx context.Context) (*DaemonHeight, error) {
	var out DaemonHeight
	if err := c.daemonPost(ctx, "/get_height", map[string]interface{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBlock fetches the block at the given height.
func (c *Client) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	var out Block
	params := map[string]interface{}{"height": height}
	if err := c.daemonCall(ctx, "get_block", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransactions fetches transactions by hash with JSON bodies.
func (c *Client) GetTransactions(ctx context.Context, hashes []string) (*Transactions, error) {
	var out Transactions
	params := map[string]interface{}{
		"txs_hashes":     hashes,
		"decode_as_json": true,
	}
	if err := c.daemonPost(ctx, "/get_transactions", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// feeSampleTarget is how many recent transaction fees feed the estimate.
const feeSampleTarget = 30

// EstimateFee walks backwards from the chain tip sampling txnFee from
// recent non-coinbase transactions, a whole block at a time, until at
// least feeSampleTarget fees are collected, and returns the average of
// every fee collected. Documented as inefficient and advisory only.
func (c *Client) EstimateFee(ctx context.Context) uint64 {
	var fees []uint64
	var count uint64 = 1

	for len(fees) < feeSampleTarget {
		tip, err := c.GetHeight(ctx)
		if err != nil || tip.Height == 0 {
			c.log.Error("error fetching height for fee estimate", "error", err)
			return 0
		}
		if count >= tip.Height {
			break
		}
		height := tip.Height - count
		block, err := c.GetBlock(ctx, height)
		if err != nil {
			c.log.Error("error fetching block for fee estimate", "height", height, "error", err)
			return 0
		}
		if block.BlockHeader.NumTxes > 0 && len(block.TxHashes) > 0 {
			c.log.Debug("sampling txs for fee estimate", "count", block.BlockHeader.NumTxes)
			txs, err := c.GetTransactions(ctx, block.TxHashes)
			if err != nil {
				return 0
			}
			for _, txJSON := range txs.TxsAsJSON {
				if fee, ok := parseTxnFee(txJSON); ok {
					fees = append(fees, fee)
				}
			}
		}
		count++
	}

	if len(fees) == 0 {
		return 0
	}
	var sum uint64
	for _, f := range fees {
		sum += f
	}
	return sum / uint64(len(fees))
}

// parseTxnFee extracts the txnFee field from a transaction's JSON body.
func parseTxnFee(txJSON string) (uint64, bool) {
	_, after, found := strings.Cut(txJSON, `txnFee":`)
	if !found {
		return 0, false
	}
	feeStr, _, _ := strings.Cut(after, ",")
	fee, err := strconv.ParseUint(strings.TrimSpace(feeStr), 10, 64)
	if err != nil {
		return 0, false
	}
	return fee, true
}

// CanTransfer reports whether the app wallet's unlocked balance covers
// the invoice amount plus the estimated fee.
func (c *Client) CanTransfer(ctx context.Context, walletName, walletPassword string, invoice uint64) bool {
	if !c.OpenWallet(ctx, walletName, walletPassword) {
		return false
	}
	balance, err := c.GetBalance(ctx)
	c.CloseWallet(ctx, walletName, walletPassword)
	if err != nil {
		c.log.Error("failed to fetch balance", "error", err)
		return false
	}
	fee := c.EstimateFee(ctx)
	c.log.Debug("transfer pre-check", "fee", fee, "balance", balance.UnlockedBalance)
	return balance.UnlockedBalance > invoice+fee
}
