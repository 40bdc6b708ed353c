package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/AgentMesh-Net/attest-go/internal/config"
	"github.com/AgentMesh-Net/attest-go/internal/store"
)

const (
	reconnectDelay = 10 * time.Second
	pollInterval   = 12 * time.Second
	// maxBlockSpan bounds the block range of a single log query.
	maxBlockSpan = 2000
)

// logSource is the part of an RPC client the watcher reads logs through.
type logSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Watcher monitors a single chain for timestamp and offchain revocation
// events and records them against stored packages.
type Watcher struct {
	rpcURL           string
	contractAddr     common.Address
	minConfirmations uint64
	chainID          uint64
	repo             store.Repo
	log              *slog.Logger
}

// NewWatcher creates a Watcher for the given chain config.
func NewWatcher(chainCfg config.ChainConfig, repo store.Repo, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		rpcURL:           chainCfg.RPCURL,
		contractAddr:     chainCfg.Contract(),
		minConfirmations: uint64(chainCfg.MinConfirmations),
		chainID:          chainCfg.ChainID,
		repo:             repo,
		log:              logger.With("chain", chainCfg.ChainID, "contract", chainCfg.Contract().Hex()),
	}
}

// Run starts the watcher loop. It reconnects on error and exits when ctx is
// cancelled.
//
// Intended to be called as: go watcher.Run(ctx)
func (w *Watcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			w.log.Info("watcher stopping")
			return
		}

		if err := w.runOnce(ctx); err != nil {
			w.log.Warn("watcher error, reconnecting", "error", err, "delay", reconnectDelay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// runOnce connects and follows the contract; returns on error or context
// cancel. Subscriptions deliver logs at the head, so they are only used when
// no confirmations are required.
func (w *Watcher) runOnce(ctx context.Context) error {
	client, err := ethclient.DialContext(ctx, w.rpcURL)
	if err != nil {
		return err
	}
	defer client.Close()

	if w.minConfirmations > 0 {
		return w.pollLogs(ctx, client)
	}

	logs := make(chan types.Log, 64)
	sub, err := client.SubscribeFilterLogs(ctx, w.query(nil, nil), logs)
	if err != nil {
		// HTTP endpoints cannot subscribe.
		return w.pollLogs(ctx, client)
	}
	defer sub.Unsubscribe()

	// Logs arriving while the backlog is read stay buffered in the subscription.
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	done, err := w.catchUp(ctx, client, head)
	if err != nil {
		return err
	}

	w.log.Info("subscribed", "from_block", done+1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case vLog := <-logs:
			w.HandleLog(ctx, vLog)
			// Blocks before this log's are complete.
			if !vLog.Removed && vLog.BlockNumber > done+1 {
				done = vLog.BlockNumber - 1
				if err := w.repo.SetCheckpoint(ctx, w.chainID, done); err != nil {
					return err
				}
			}
		}
	}
}

func (w *Watcher) query(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{w.contractAddr},
		Topics:    [][]common.Hash{{TimestampedTopic, RevokedOffchainTopic}},
	}
}

// pollLogs polls every pollInterval, only reading blocks that already have
// minConfirmations confirmations. Errors are returned so that Run reconnects;
// the checkpoint keeps the next attempt where this one stopped.
func (w *Watcher) pollLogs(ctx context.Context, src logSource) error {
	w.log.Info("polling for logs", "min_confirmations", w.minConfirmations)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		head, err := src.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if _, err := w.catchUp(ctx, src, w.confirmed(head)); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// catchUp applies logs from the block after the stored checkpoint through
// to, at most maxBlockSpan blocks per query, and saves the checkpoint after
// every query. Without a checkpoint the watcher starts following at to. It
// returns the last block applied.
func (w *Watcher) catchUp(ctx context.Context, src logSource, to uint64) (uint64, error) {
	last, ok, err := w.repo.Checkpoint(ctx, w.chainID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return to, w.repo.SetCheckpoint(ctx, w.chainID, to)
	}

	for last < to {
		from, end := last+1, min(to, last+maxBlockSpan)
		fetched, err := src.FilterLogs(ctx, w.query(new(big.Int).SetUint64(from), new(big.Int).SetUint64(end)))
		if err != nil {
			return last, fmt.Errorf("filter logs %d-%d: %w", from, end, err)
		}
		for _, vLog := range fetched {
			w.HandleLog(ctx, vLog)
		}
		if err := w.repo.SetCheckpoint(ctx, w.chainID, end); err != nil {
			return last, err
		}
		last = end
	}
	return last, nil
}

func (w *Watcher) confirmed(head uint64) uint64 {
	if head < w.minConfirmations {
		return 0
	}
	return head - w.minConfirmations
}

// HandleLog applies one contract log to the store. Removed (reorged) logs
// and logs that do not concern a stored package are skipped.
func (w *Watcher) HandleLog(ctx context.Context, vLog types.Log) {
	if vLog.Removed {
		w.log.Info("skipping removed log", "tx", vLog.TxHash.Hex())
		return
	}
	if len(vLog.Topics) == 0 {
		return
	}
	switch vLog.Topics[0] {
	case TimestampedTopic, RevokedOffchainTopic:
	default:
		return
	}

	ts, err := DecodeTimestampLog(&vLog)
	if err != nil {
		w.log.Warn("undecodable log", "tx", vLog.TxHash.Hex(), "error", err)
		return
	}
	at := time.Unix(int64(ts.Timestamp), 0).UTC()

	if vLog.Topics[0] == TimestampedTopic {
		err = w.repo.MarkTimestamped(ctx, w.chainID, ts.Data, at, vLog.TxHash)
	} else {
		err = w.repo.MarkRevoked(ctx, w.chainID, ts.Revoker, ts.Data, at, vLog.TxHash)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		w.log.Debug("log for unknown package", "uid", ts.Data.Hex(), "tx", vLog.TxHash.Hex())
	case err != nil:
		w.log.Error("store update failed", "uid", ts.Data.Hex(), "tx", vLog.TxHash.Hex(), "error", err)
	case ts.Revoker != (common.Address{}):
		w.log.Info("package revoked", "uid", ts.Data.Hex(), "revoker", ts.Revoker.Hex(), "tx", vLog.TxHash.Hex())
	default:
		w.log.Info("package timestamped", "uid", ts.Data.Hex(), "tx", vLog.TxHash.Hex())
	}
}
