package ledger

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// SignedTransaction is a serialized transaction together with its signatures, ready to be
// executed by a full node.
type SignedTransaction struct {
	TxBytes    string   `json:"tx_bytes"`
	Signatures []string `json:"signatures"`
}

// Signer produces a signed transaction. Key custody lives behind this interface.
type Signer interface {
	Sign(ctx context.Context, tx *Transaction) (*SignedTransaction, error)
}

// RemoteSigner delegates serialization and signing to a wallet bridge over HTTP. The bridge
// receives the transaction description and answers with base64 tx bytes and signatures.
type RemoteSigner struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

type signRequest struct {
	Transaction *Transaction `json:"transaction"`
}

type signError struct {
	Message string `json:"message"`
}

// NewRemoteSigner creates a signer posting to url.
func NewRemoteSigner(url string, timeout time.Duration, logger *zap.Logger) *RemoteSigner {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &RemoteSigner{client: client, url: url, logger: logger}
}

// Sign implements Signer. A 4xx answer means the wallet declined to sign.
func (s *RemoteSigner) Sign(ctx context.Context, tx *Transaction) (*SignedTransaction, error) {
	var (
		out     SignedTransaction
		failure signError
	)
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(signRequest{Transaction: tx}).
		SetResult(&out).
		SetError(&failure).
		Post(s.url)
	if err != nil {
		return nil, errors.SubmissionFailed.Explain("wallet signer unreachable").Wrap(err)
	}

	switch {
	case resp.StatusCode() >= http.StatusBadRequest && resp.StatusCode() < http.StatusInternalServerError:
		s.logger.Warn("Wallet declined transaction",
			zap.Int("status", resp.StatusCode()),
			zap.String("reason", failure.Message))
		msg := "wallet rejected the transaction"
		if failure.Message != "" {
			msg += ": " + failure.Message
		}
		return nil, errors.SubmissionFailed.Explain("%s", msg)
	case resp.IsError():
		return nil, errors.SubmissionFailed.Explain("wallet signer returned status %d", resp.StatusCode())
	}

	if out.TxBytes == "" || len(out.Signatures) == 0 {
		return nil, errors.SubmissionFailed.Explain("wallet signer returned an empty signature")
	}
	return &out, nil
}
