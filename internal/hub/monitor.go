package hub

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/blockchain"
	"github.com/scoundrelhq/warchest/internal/errs"
)

const defaultMonitorPoll = 2 * time.Second

// TxStatusClient is the slice of the RPC client the monitor needs.
type TxStatusClient interface {
	GetSignatureStatus(ctx context.Context, signature string) (*blockchain.SigStatus, error)
	GetTransaction(ctx context.Context, signature string) (*blockchain.TxInfo, error)
}

// MonitorWorker polls a signature until it confirms, fails, or the
// dispatch deadline kills it. Terminal outcomes are emitted as a TxSummary
// so the HUD sees them whether the dispatch was foreground or detached.
type MonitorWorker struct {
	client TxStatusClient
	logger *zap.Logger
	poll   time.Duration
}

// NewMonitorWorker builds the confirmation monitor. A non-positive poll
// interval selects the 2s default.
func NewMonitorWorker(client TxStatusClient, logger *zap.Logger, poll time.Duration) *MonitorWorker {
	if poll <= 0 {
		poll = defaultMonitorPoll
	}
	return &MonitorWorker{client: client, logger: logger, poll: poll}
}

func (w *MonitorWorker) Name() string { return WorkerTxMonitor }

// Run implements Worker. A deadline produces a timeout result, not an
// error: the caller still gets a terminal status.
func (w *MonitorWorker) Run(ctx context.Context, req Request, emit EmitFunc) (map[string]interface{}, error) {
	signature := payloadString(req.Payload, "signature", "txid")
	if signature == "" {
		return nil, errs.E(errs.KindInvalidArgument, "hub.monitor", "payload needs a signature")
	}
	wallet := payloadString(req.Payload, "wallet", "alias")
	side := payloadString(req.Payload, "side")
	mint := payloadString(req.Payload, "mint")

	logger := w.logger
	if req.Logger != nil {
		logger = req.Logger
	}
	if req.RequestFile != "" {
		defer func() {
			if err := os.Remove(req.RequestFile); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove monitor request file",
					zap.String("file", req.RequestFile),
					zap.Error(err))
			}
		}()
	}

	started := time.Now()
	emit(EventMonitorStart, map[string]interface{}{
		"signature": signature,
		"wallet":    wallet,
	})

	status, slot, failure := w.await(ctx, signature, logger)

	durationMs := time.Since(started).Milliseconds()
	doneData := map[string]interface{}{
		"signature":  signature,
		"wallet":     wallet,
		"status":     status,
		"durationMs": durationMs,
	}
	if slot > 0 {
		doneData["slot"] = slot
	}
	emit(EventMonitorDone, doneData)

	summary := w.buildSummary(ctx, signature, side, mint, status, failure, durationMs, req.Payload)
	emit(EventSwapSummary, map[string]interface{}{
		"summary": summary,
		"wallet":  wallet,
		"slot":    slot,
	})

	logger.Info("Transaction monitor finished",
		zap.String("signature", ShortSig(signature)),
		zap.String("status", status),
		zap.Uint64("slot", slot),
		zap.Int64("durationMs", durationMs))

	result := map[string]interface{}{
		"status":    status,
		"signature": signature,
	}
	if slot > 0 {
		result["slot"] = slot
	}
	if failure != "" {
		result["errMessage"] = failure
	}
	return result, nil
}

// await polls the signature status until a terminal verdict or ctx expiry.
// Lookup misses and transient RPC failures keep the loop alive.
func (w *MonitorWorker) await(ctx context.Context, signature string, logger *zap.Logger) (status string, slot uint64, failure string) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		st, err := w.client.GetSignatureStatus(ctx, signature)
		switch {
		case err == nil:
			if st.Err != nil {
				return MonitorFailed, st.Slot, fmt.Sprintf("%v", st.Err)
			}
			if confirmed(st.ConfirmationStatus) {
				return MonitorConfirmed, st.Slot, ""
			}
		case errs.Is(err, errs.KindNotFound):
			// Not visible yet; keep waiting.
		case ctx.Err() != nil:
			return MonitorTimeout, slot, ""
		default:
			logger.Warn("Signature status poll failed",
				zap.String("signature", ShortSig(signature)),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return MonitorTimeout, slot, ""
		case <-ticker.C:
		}
	}
}

// buildSummary assembles the terminal TxSummary, enriching confirmed runs
// with block time and fees when the transaction is fetchable.
func (w *MonitorWorker) buildSummary(ctx context.Context, signature, side, mint, status, failure string, durationMs int64, payload map[string]interface{}) *TxSummary {
	summary := &TxSummary{
		Kind:        "swap",
		Side:        strings.ToLower(side),
		Mint:        mint,
		Txid:        signature,
		ExplorerUrl: ExplorerURL(signature),
		DurationMs:  &durationMs,
		Tokens:      floatField(payload, "tokens"),
		Sol:         floatField(payload, "sol"),
	}

	label := strings.ToUpper(side)
	if label == "" {
		label = "TX"
	}

	switch status {
	case MonitorConfirmed:
		summary.Status = SummaryOk
		summary.Label = label + " confirmed"
		w.enrich(ctx, summary)
	case MonitorFailed:
		summary.Status = SummaryFailed
		summary.Label = label + " failed"
		summary.ErrMessage = failure
		summary.ErrorSummary = failure
	default:
		summary.Status = SummaryTimeout
		summary.Label = label + " confirmation timed out"
		summary.ErrMessage = "confirmation not observed before deadline"
	}
	return summary
}

func (w *MonitorWorker) enrich(ctx context.Context, summary *TxSummary) {
	// Best effort; the summary stands without it.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	tx, err := w.client.GetTransaction(fetchCtx, summary.Txid)
	if err != nil {
		return
	}
	if tx.BlockTime != nil {
		summary.BlockTimeIso = tx.BlockTime.UTC().Format(time.RFC3339)
	}
	if tx.Fee > 0 {
		fee := float64(tx.Fee) / 1e9
		summary.TotalFeesSol = &fee
	}
}

func confirmed(status string) bool {
	return status == "confirmed" || status == "finalized"
}
