package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"trendbot/internal/alert"
	"trendbot/internal/engine"
	"trendbot/internal/eventbus"
	"trendbot/internal/gate"
	"trendbot/internal/reconcile"
	"trendbot/internal/storage"
	"trendbot/pkg/logx"
)

// journalPrefixes selects the bus traffic worth a durable audit row. Anything
// else on the bus (config.reload and friends) stays log-only.
var journalPrefixes = []string{
	"decision.",
	"action.",
	"reward.",
	"engine.",
	"alert.",
	"schedule.",
}

// journalLoop drains the journal subscription, debug-logging every event and
// appending it to the audit table. Appends are best effort: a failed write is
// logged and dropped, never retried, so a sick database cannot back up the
// bus.
func (a *App) journalLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event",
				logx.String("type", e.Type),
				logx.Time("at", e.Time),
			)
			entry := auditEntry(e)
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := a.store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				a.log.Debug("audit append failed",
					logx.String("type", e.Type),
					logx.Err(err),
				)
			}
		}
	}
}

// auditEntry flattens a bus event into an audit row. Known payloads
// contribute a ref id and error column; everything lands in Detail as JSON.
func auditEntry(e eventbus.Event) storage.AuditEntry {
	entry := storage.AuditEntry{
		At:        e.Time,
		Component: componentOf(e.Type),
		Event:     e.Type,
	}
	switch d := e.Data.(type) {
	case engine.DecisionEvent:
		entry.Ref = d.DecisionID
	case engine.OpEvent:
		entry.TookMS = d.TookMS
		entry.Err = d.Error
	case gate.ActionEvent:
		entry.Ref = d.ActionID
		entry.Err = d.Error
	case reconcile.RewardEvent:
		entry.Ref = d.DecisionID
	case alert.AlertEvent:
		entry.Ref = d.Key
		entry.Err = d.Error
	}
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil {
			entry.Detail = string(b)
		}
	}
	return entry
}

// componentOf maps an event type to the subsystem that emits it.
func componentOf(typ string) string {
	prefix, _, _ := strings.Cut(typ, ".")
	switch prefix {
	case "decision":
		return "engine"
	case "action":
		return "gate"
	case "reward":
		return "reconcile"
	}
	return prefix
}
