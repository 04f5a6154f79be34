package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// Config configures the full node connection.
type Config struct {
	RPCURL       string
	PollInterval time.Duration
}

// Client submits transactions to a Sui full node over JSON-RPC and waits for their receipts.
type Client struct {
	rpc    *rpc.Client
	signer Signer
	cfg    Config
	logger *zap.Logger
}

var _ Submitter = (*Client)(nil)

type responseOptions struct {
	ShowEvents  bool `json:"showEvents"`
	ShowEffects bool `json:"showEffects"`
}

type executionStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type transactionEffects struct {
	Status executionStatus `json:"status"`
}

type transactionResponse struct {
	Digest  string              `json:"digest"`
	Effects *transactionEffects `json:"effects,omitempty"`
	Events  []Event             `json:"events,omitempty"`
	Errors  []string            `json:"errors,omitempty"`
}

// Dial connects to the node at cfg.RPCURL.
func Dial(ctx context.Context, cfg Config, signer Signer, logger *zap.Logger) (*Client, error) {
	c, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.ConfigInvalid.Explain("cannot dial ledger node %s", cfg.RPCURL).Wrap(err)
	}
	return NewClient(c, signer, cfg, logger), nil
}

// NewClient wraps an existing RPC connection.
func NewClient(c *rpc.Client, signer Signer, cfg Config, logger *zap.Logger) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Client{rpc: c, signer: signer, cfg: cfg, logger: logger}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// SignAndExecute implements Submitter.
func (c *Client) SignAndExecute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	signed, err := c.signer.Sign(ctx, tx)
	if err != nil {
		return nil, err
	}

	var resp transactionResponse
	err = c.rpc.CallContext(ctx, &resp, "sui_executeTransactionBlock",
		signed.TxBytes,
		signed.Signatures,
		responseOptions{ShowEvents: true, ShowEffects: true},
		"WaitForLocalExecution",
	)
	if err != nil {
		return nil, errors.SubmissionFailed.Explain("transaction submission failed").Wrap(err)
	}
	if resp.Digest == "" {
		return nil, errors.SubmissionFailed.Explain("No transaction digest received. The transaction might have failed.")
	}

	c.logger.Debug("Transaction executed",
		zap.String("digest", resp.Digest),
		zap.Int("commands", len(tx.Commands)))

	if resp.Effects == nil {
		return c.waitForReceipt(ctx, resp.Digest)
	}
	if err := checkEffects(resp); err != nil {
		return nil, err
	}
	return &Receipt{Digest: resp.Digest, Events: resp.Events}, nil
}

// waitForReceipt polls until the node has indexed the transaction.
func (c *Client) waitForReceipt(ctx context.Context, digest string) (*Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.GetReceipt(ctx, digest)
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, errors.SubmissionFailed) {
			return nil, err
		}
		c.logger.Debug("Receipt not yet available", zap.String("digest", digest), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, errors.SubmissionFailed.Explain("gave up waiting for receipt of %s", digest).Wrap(ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetReceipt fetches the receipt of an already executed transaction. It returns NotFound while
// the node has not indexed the digest yet.
func (c *Client) GetReceipt(ctx context.Context, digest string) (*Receipt, error) {
	var resp transactionResponse
	err := c.rpc.CallContext(ctx, &resp, "sui_getTransactionBlock", digest,
		responseOptions{ShowEvents: true, ShowEffects: true})
	if err != nil {
		return nil, errors.NotFound.Explain("transaction %s not found", digest).Wrap(err)
	}
	if resp.Effects == nil {
		return nil, errors.NotFound.Explain("transaction %s has no effects yet", digest)
	}
	if err := checkEffects(resp); err != nil {
		return nil, err
	}
	return &Receipt{Digest: resp.Digest, Events: resp.Events}, nil
}

func checkEffects(resp transactionResponse) error {
	if resp.Effects.Status.Status != "success" {
		return errors.SubmissionFailed.Explain("transaction %s failed on chain: %s", resp.Digest, resp.Effects.Status.Error)
	}
	return nil
}
