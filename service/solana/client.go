package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/dustpan/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	// ErrTransactionFailed means the ledger included the transaction but it failed.
	ErrTransactionFailed = errors.New("transaction failed")
	// ErrBlockhashExpired means the transaction's blockhash aged out before it landed.
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")
	// ErrConfirmTimeout means confirmation was not observed within the configured window.
	ErrConfirmTimeout = errors.New("timed out waiting for confirmation")
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetTokenAccountsByOwner(
		ctx context.Context,
		owner solana.PublicKey,
		programID solana.PublicKey,
		encoding solana.EncodingType,
		commitment rpc.CommitmentType,
	) ([]*RawTokenAccount, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetMinimumBalanceForRentExemption(
		ctx context.Context,
		dataSize uint64,
		commitment rpc.CommitmentType,
	) (uint64, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetBlockHeight(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (uint64, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	RequestAirdrop(
		ctx context.Context,
		account solana.PublicKey,
		lamports uint64,
		commitment rpc.CommitmentType,
	) (solana.Signature, error)
}

// ClientConfig holds the knobs for a Client.
type ClientConfig struct {
	// Endpoint is used for metrics labeling (e.g., "mainnet", "devnet", or RPC hostname).
	Endpoint       string
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client is the ledger gateway. It wraps the RPC client with the handful of
// operations a cleanup run needs: enumerate, read balances, anchor, submit, confirm.
type Client struct {
	rpc     RPCClient
	cfg     ClientConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Client{
		rpc:     rpcClient,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Endpoint returns the endpoint label this client reports under.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// Commitment returns the commitment level used for reads and confirmation.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.cfg.Commitment
}

func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.cfg.Endpoint, time.Since(start).Seconds())
}

// EnumerateTokenAccounts lists every token account owned by owner under each
// of the given token programs. Data is requested in the given encoding and
// returned untouched.
func (c *Client) EnumerateTokenAccounts(
	ctx context.Context,
	owner solana.PublicKey,
	programs []solana.PublicKey,
	encoding solana.EncodingType,
) ([]KeyedAccount, error) {
	var accounts []KeyedAccount
	for _, program := range programs {
		start := time.Now()
		raw, err := c.rpc.GetTokenAccountsByOwner(ctx, owner, program, encoding, c.cfg.Commitment)
		c.observe("getTokenAccountsByOwner", start, err)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to enumerate token accounts",
				"wallet", owner.String(),
				"program", ProgramName(program),
				"error", err,
			)
			return nil, fmt.Errorf("failed to enumerate %s accounts: %w", ProgramName(program), err)
		}

		for _, r := range raw {
			if r == nil {
				continue
			}
			accounts = append(accounts, KeyedAccount{
				Address:  r.Pubkey,
				Program:  program,
				Lamports: r.Account.Lamports,
				Data:     r.Account.Data,
			})
		}

		c.logger.DebugContext(ctx, "enumerated token accounts",
			"wallet", owner.String(),
			"program", ProgramName(program),
			"encoding", encoding,
			"count", len(raw),
		)
	}
	return accounts, nil
}

// GetBalance returns the native balance of account in lamports.
func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	res, err := c.rpc.GetBalance(ctx, account, c.cfg.Commitment)
	c.observe("getBalance", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	if res == nil {
		return 0, fmt.Errorf("failed to get balance: empty response")
	}
	return res.Value, nil
}

// GetMinimumRentExemptBalance returns the rent-exempt minimum for an account of size bytes.
func (c *Client) GetMinimumRentExemptBalance(ctx context.Context, size uint64) (uint64, error) {
	start := time.Now()
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.cfg.Commitment)
	c.observe("getMinimumBalanceForRentExemption", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get rent-exempt minimum: %w", err)
	}
	return lamports, nil
}

// GetRecentStateAnchor fetches a fresh blockhash to anchor a transaction to.
func (c *Client) GetRecentStateAnchor(ctx context.Context) (StateAnchor, error) {
	start := time.Now()
	res, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
	c.observe("getLatestBlockhash", start, err)
	if err != nil {
		return StateAnchor{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return StateAnchor{}, fmt.Errorf("failed to get latest blockhash: empty response")
	}
	return StateAnchor{
		Blockhash:            res.Value.Blockhash,
		LastValidBlockHeight: res.Value.LastValidBlockHeight,
	}, nil
}

// SendTransaction submits a signed transaction once. Retries are left to the
// caller; the node is not asked to rebroadcast either.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var noRebroadcast uint
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
		MaxRetries:          &noRebroadcast,
	})
	c.observe("sendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	c.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// WaitForConfirmation blocks until sig reaches the client's commitment level,
// the ledger reports it failed, its blockhash expires, or the confirmation
// window elapses. Transient RPC errors while polling are logged and retried.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := c.pollOnce(ctx, sig, lastValidBlockHeight)
		if done {
			return err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.recordPoll("timeout")
				return fmt.Errorf("%w: %s after %s", ErrConfirmTimeout, sig, c.cfg.ConfirmTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) recordPoll(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordConfirmationPoll(c.cfg.Endpoint, outcome)
	}
}

// pollOnce checks the signature status a single time. done is true when
// polling should stop, with err carrying the outcome.
func (c *Client) pollOnce(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) (done bool, err error) {
	start := time.Now()
	res, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	c.observe("getSignatureStatuses", start, err)
	if err != nil {
		c.recordPoll("rpc_error")
		c.logger.WarnContext(ctx, "signature status poll failed", "signature", sig.String(), "error", err)
		return false, nil
	}

	if res != nil && len(res.Value) > 0 && res.Value[0] != nil {
		status := res.Value[0]
		if status.Err != nil {
			c.recordPoll("failed")
			return true, fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err)
		}
		if commitmentReached(status.ConfirmationStatus, c.cfg.Commitment) {
			c.recordPoll("confirmed")
			c.logger.InfoContext(ctx, "transaction confirmed",
				"signature", sig.String(),
				"status", status.ConfirmationStatus,
				"slot", status.Slot,
			)
			return true, nil
		}
		c.recordPoll("pending")
		return false, nil
	}

	// Not seen yet. Give up once the blockhash can no longer land.
	if lastValidBlockHeight > 0 {
		start = time.Now()
		height, herr := c.rpc.GetBlockHeight(ctx, c.cfg.Commitment)
		c.observe("getBlockHeight", start, herr)
		if herr == nil && height > lastValidBlockHeight {
			c.recordPoll("expired")
			return true, fmt.Errorf("%w: block height %d > %d", ErrBlockhashExpired, height, lastValidBlockHeight)
		}
	}
	c.recordPoll("pending")
	return false, nil
}

// SubmitAndConfirm sends tx and waits for confirmation. The signature is
// returned whenever the send itself succeeded, even if confirmation did not.
func (c *Client) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction, anchor StateAnchor) (solana.Signature, error) {
	sig, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, c.WaitForConfirmation(ctx, sig, anchor.LastValidBlockHeight)
}

// RequestAirdrop asks the cluster faucet for lamports and waits for the
// airdrop to confirm. Only works against test clusters.
func (c *Client) RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.RequestAirdrop(ctx, account, lamports, c.cfg.Commitment)
	c.observe("requestAirdrop", start, err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to request airdrop: %w", err)
	}
	return sig, c.WaitForConfirmation(ctx, sig, 0)
}

func commitmentReached(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentFinalized:
		return status == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentProcessed:
		return status != ""
	default:
		return status == rpc.ConfirmationStatusConfirmed || status == rpc.ConfirmationStatusFinalized
	}
}

// ParseCommitment maps a configuration string to a commitment level.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "confirmed", "":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("unknown commitment %q (want processed, confirmed or finalized)", s)
	}
}

// ParseEncoding maps a configuration string to an account data encoding.
func ParseEncoding(s string) (solana.EncodingType, error) {
	switch s {
	case "base64", "":
		return solana.EncodingBase64, nil
	case "base58":
		return solana.EncodingBase58, nil
	case "jsonParsed":
		return solana.EncodingJSONParsed, nil
	default:
		return "", fmt.Errorf("unknown account encoding %q (want base64, base58 or jsonParsed)", s)
	}
}
