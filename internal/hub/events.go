// Package hub dispatches swap and tx-monitor work items to isolated
// workers under single-flight locks, forwards their progress events in
// order, and feeds the hub-events log back into the HUD snapshot.
package hub

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Progress event names. Worker emissions are normalized to these before
// anything downstream sees them; the mixed dot/colon spellings are a wire
// contract shared with the sibling toolchain.
const (
	EventSwapValidated      = "swap:validated"
	EventSecretResolved     = "swap:secret:resolved"
	EventAmountResolveStart = "swap:amount:resolve:start"
	EventAmountResolveDone  = "swap:amount:resolve:done"
	EventEngineStart        = "swap:engine:start"
	EventBuildStart         = "swap.build.start"
	EventBuildDone          = "swap.build.done"
	EventSendStart          = "swap.send.start"
	EventSendDone           = "swap.send.done"
	EventSubmitted          = "swap:submitted"
	EventMonitorStart       = "swap:monitor:start"
	EventMonitorDone        = "swap:monitor:done"
	EventMonitorDetached    = "swap:monitor:detached"
	EventSwapSummary        = "swap:summary"
)

// TxSummary statuses.
const (
	SummaryOk      = "ok"
	SummaryFailed  = "failed"
	SummaryUnknown = "unknown"
	SummaryTimeout = "timeout"
)

// HubEvent is one normalized progress record: what happened, when, and the
// worker-supplied payload. It is also the JSONL line shape of the
// hub-events log.
type HubEvent struct {
	Event string                 `json:"event"`
	Ts    int64                  `json:"ts"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// TxSummary is the terminal record of a swap or monitor run. Status "ok"
// implies the error fields are empty.
type TxSummary struct {
	Kind           string      `json:"kind"`
	Status         string      `json:"status"`
	Label          string      `json:"label,omitempty"`
	Side           string      `json:"side,omitempty"`
	Mint           string      `json:"mint,omitempty"`
	Txid           string      `json:"txid,omitempty"`
	ExplorerUrl    string      `json:"explorerUrl,omitempty"`
	DurationMs     *int64      `json:"durationMs,omitempty"`
	Tokens         *float64    `json:"tokens,omitempty"`
	Sol            *float64    `json:"sol,omitempty"`
	TotalFeesSol   *float64    `json:"totalFeesSol,omitempty"`
	PriceImpactPct *float64    `json:"priceImpactPct,omitempty"`
	Quote          interface{} `json:"quote,omitempty"`
	Err            string      `json:"err,omitempty"`
	ErrMessage     string      `json:"errMessage,omitempty"`
	ErrorSummary   string      `json:"errorSummary,omitempty"`
	BlockTimeIso   string      `json:"blockTimeIso,omitempty"`
}

// NewEvent stamps a progress payload with the current wall clock.
func NewEvent(event string, data map[string]interface{}) HubEvent {
	return HubEvent{Event: event, Ts: time.Now().UnixMilli(), Data: data}
}

// SummaryEvent wraps a terminal TxSummary in its carrier event. The wallet
// alias rides alongside so the HUD can route the entry.
func SummaryEvent(wallet string, summary *TxSummary) HubEvent {
	data := map[string]interface{}{"summary": summary}
	if wallet != "" {
		data["wallet"] = wallet
	}
	return NewEvent(EventSwapSummary, data)
}

// ExtractSummary pulls the TxSummary out of an event, handling both the
// in-process pointer form and the JSON map form read back off disk.
func ExtractSummary(ev HubEvent) (*TxSummary, bool) {
	raw, ok := ev.Data["summary"]
	if !ok || raw == nil {
		return nil, false
	}
	switch v := raw.(type) {
	case *TxSummary:
		return v, true
	case TxSummary:
		return &v, true
	default:
		blob, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var s TxSummary
		if err := json.Unmarshal(blob, &s); err != nil {
			return nil, false
		}
		if s.Kind == "" && s.Status == "" {
			return nil, false
		}
		return &s, true
	}
}

// Wallet returns the alias the event targets, or "".
func (ev HubEvent) Wallet() string {
	return stringField(ev.Data, "wallet")
}

// Swap lifecycle steps in display order.
const (
	StepValidate = "validate"
	StepSecret   = "secret"
	StepPrepare  = "prepare"
	StepSubmit   = "submit"
	StepMonitor  = "monitor"
)

// Step states.
const (
	StepPending = "pending"
	StepActive  = "active"
	StepDone    = "done"
	StepFailed  = "failed"
)

// SwapSteps returns the ordered step names.
func SwapSteps() []string {
	return []string{StepValidate, StepSecret, StepPrepare, StepSubmit, StepMonitor}
}

// eventStep maps an event name to its lifecycle step and whether it
// completes that step.
func eventStep(event string) (step string, completes bool, ok bool) {
	switch event {
	case EventSwapValidated:
		return StepValidate, true, true
	case EventSecretResolved:
		return StepSecret, true, true
	case EventAmountResolveStart, EventAmountResolveDone, EventEngineStart, EventBuildStart:
		return StepPrepare, false, true
	case EventBuildDone:
		return StepPrepare, true, true
	case EventSendStart:
		return StepSubmit, false, true
	case EventSendDone, EventSubmitted:
		return StepSubmit, true, true
	case EventMonitorStart:
		return StepMonitor, false, true
	case EventMonitorDone, EventMonitorDetached:
		return StepMonitor, true, true
	default:
		return "", false, false
	}
}

// FoldSteps derives the per-step state from an ordered event sequence.
// States only move forward (pending, active, done); a terminal summary
// forces monitor to failed or done depending on its status.
func FoldSteps(events []HubEvent) map[string]string {
	states := make(map[string]string, 5)
	for _, step := range SwapSteps() {
		states[step] = StepPending
	}
	for _, ev := range events {
		if step, completes, ok := eventStep(ev.Event); ok {
			if completes {
				states[step] = StepDone
			} else if states[step] != StepDone {
				states[step] = StepActive
			}
			continue
		}
		if summary, ok := ExtractSummary(ev); ok {
			switch summary.Status {
			case SummaryFailed, SummaryTimeout:
				states[StepMonitor] = StepFailed
			case SummaryOk:
				states[StepMonitor] = StepDone
			}
		}
	}
	return states
}

// Summarize renders one human line for an event, used for recentEvents and
// operator-facing logs.
func Summarize(ev HubEvent) string {
	if summary, ok := ExtractSummary(ev); ok {
		return summarizeTerminal(summary)
	}
	switch ev.Event {
	case EventSwapValidated:
		return withSideMint(ev, "swap validated")
	case EventSecretResolved:
		return "wallet key resolved"
	case EventAmountResolveStart:
		return "resolving amount"
	case EventAmountResolveDone:
		return "amount resolved"
	case EventEngineStart:
		return "swap engine started"
	case EventBuildStart:
		return "building swap"
	case EventBuildDone:
		return "swap built"
	case EventSendStart:
		return "sending transaction"
	case EventSendDone:
		return "transaction sent"
	case EventSubmitted:
		if sig := stringField(ev.Data, "signature"); sig != "" {
			return "submitted " + ShortSig(sig)
		}
		return "transaction submitted"
	case EventMonitorStart:
		if sig := stringField(ev.Data, "signature"); sig != "" {
			return "monitoring " + ShortSig(sig)
		}
		return "monitoring transaction"
	case EventMonitorDone:
		if status := stringField(ev.Data, "status"); status != "" {
			return "monitor finished: " + status
		}
		return "monitor finished"
	case EventMonitorDetached:
		return "monitor detached"
	default:
		return ev.Event
	}
}

func summarizeTerminal(summary *TxSummary) string {
	if summary.Label != "" {
		return summary.Label
	}
	side := strings.ToUpper(summary.Side)
	if side == "" {
		side = "SWAP"
	}
	var verdict string
	switch summary.Status {
	case SummaryOk:
		verdict = "confirmed"
	case SummaryFailed:
		verdict = "failed"
	case SummaryTimeout:
		verdict = "timed out"
	default:
		verdict = summary.Status
	}
	line := side + " " + verdict
	if summary.Txid != "" {
		line += " " + ShortSig(summary.Txid)
	}
	if summary.ErrMessage != "" {
		line += ": " + summary.ErrMessage
	}
	return line
}

func withSideMint(ev HubEvent, base string) string {
	side := strings.ToUpper(stringField(ev.Data, "side"))
	if side == "" {
		return base
	}
	return side + " " + base
}

// ShortSig abbreviates a signature for one-line displays.
func ShortSig(sig string) string {
	if len(sig) <= 12 {
		return sig
	}
	return fmt.Sprintf("%s..%s", sig[:6], sig[len(sig)-4:])
}

func stringField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func floatField(data map[string]interface{}, key string) *float64 {
	if data == nil {
		return nil
	}
	switch v := data[key].(type) {
	case float64:
		return &v
	case float32:
		f := float64(v)
		return &f
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case uint64:
		f := float64(v)
		return &f
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

func uintField(data map[string]interface{}, key string) (uint64, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case uint64:
		return v, true
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case float64:
		if v >= 0 {
			return uint64(v), true
		}
	case json.Number:
		if f, err := v.Float64(); err == nil && f >= 0 {
			return uint64(f), true
		}
	}
	return 0, false
}
