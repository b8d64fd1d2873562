package acquisition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/sge"
	"github.com/raterudder/sgetiers/pkg/types"
)

func init() {
	// retries and skipped points warn a lot
	log.SetDefaultLogLevel(slog.LevelError)
}

// memoryHistory upserts points keyed by timestamp.
type memoryHistory struct {
	points    map[string]map[int64]string
	commits   map[string]int
	queryErr  error
	commitErr error
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{
		points:  make(map[string]map[int64]string),
		commits: make(map[string]int),
	}
}

func (h *memoryHistory) seed(variableID string, t time.Time, value string) {
	if h.points[variableID] == nil {
		h.points[variableID] = make(map[int64]string)
	}
	h.points[variableID][t.Unix()] = value
}

func (h *memoryHistory) QueryPrevValue(ctx context.Context, variableID string) (time.Time, bool, error) {
	if h.queryErr != nil {
		return time.Time{}, false, h.queryErr
	}
	var last int64
	var ok bool
	for ts := range h.points[variableID] {
		if !ok || ts > last {
			last, ok = ts, true
		}
	}
	if !ok {
		return time.Time{}, false, nil
	}
	return time.Unix(last, 0), true, nil
}

func (h *memoryHistory) Commit(ctx context.Context, variableID string, points []types.SeriesPoint) (bool, error) {
	if h.commitErr != nil {
		return false, h.commitErr
	}
	h.commits[variableID]++
	if h.points[variableID] == nil {
		h.points[variableID] = make(map[int64]string)
	}
	var applied bool
	for _, p := range points {
		if old, ok := h.points[variableID][p.Timestamp]; ok && old == p.Value {
			continue
		}
		h.points[variableID][p.Timestamp] = p.Value
		applied = true
	}
	return applied, nil
}

// scriptedInvoker answers each call with the next scripted function, the last
// one repeating.
type scriptedInvoker struct {
	script []func(p sge.Params) ([]byte, error)
	calls  []sge.Params
}

func (s *scriptedInvoker) Invoke(ctx context.Context, p sge.Params) ([]byte, error) {
	s.calls = append(s.calls, p)
	i := len(s.calls) - 1
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	return s.script[i](p)
}

type staticBackend struct {
	invokers   map[types.CommandService]sge.Invoker
	configured []types.CommandService
}

func (b *staticBackend) Configure(svc types.CommandService) (sge.Invoker, error) {
	b.configured = append(b.configured, svc)
	inv, ok := b.invokers[svc]
	if !ok {
		return nil, fmt.Errorf("no invoker for %s", svc)
	}
	return inv, nil
}

type foundLog struct {
	calls []map[string]bool
}

func (f *foundLog) RecordFound(ctx context.Context, found map[string]bool) error {
	f.calls = append(f.calls, found)
	return nil
}

// windowPayload returns a series response with one point at 00:30 on the
// first day of the requested window.
func windowPayload(p sge.Params) ([]byte, error) {
	return []byte(seriesPayload(p.From.Format(types.DateLayout)+"T00:30:00", "42")), nil
}

func seriesPayload(pairs ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><Envelope><Body><consulterMesuresDetailleesV3Response><grandeur>`)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, "<points><d>%s</d><v>%s</v></points>", pairs[i], pairs[i+1])
	}
	b.WriteString(`</grandeur></consulterMesuresDetailleesV3Response></Body></Envelope>`)
	return b.String()
}

func sgeError(kind sge.Kind, code string) func(sge.Params) ([]byte, error) {
	return func(sge.Params) ([]byte, error) {
		return nil, &sge.Error{Kind: kind, Code: code, Message: "test"}
	}
}

func fixedConfig(now time.Time, sleeps *[]time.Duration) Config {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return now }
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return cfg
}

func bound(id string, svc types.CommandService, path string) types.BoundVariable {
	return types.BoundVariable{
		Variable: types.Variable{ID: id, Name: id, CovIncrement: -1, Active: true},
		Binding:  &types.VariableBinding{VariableID: id, CommandService: svc, PathExpression: path},
	}
}

func parisDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, ParisLocation)
}
