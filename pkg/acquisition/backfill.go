package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/raterudder/sgetiers/pkg/extract"
	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/sge"
	"github.com/raterudder/sgetiers/pkg/types"
)

// ErrRetriesExhausted is returned when every attempt of a request failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// History is the time-series store of variables.
type History interface {
	// QueryPrevValue returns the time of the latest stored point of the
	// variable, and false if it has none.
	QueryPrevValue(ctx context.Context, variableID string) (time.Time, bool, error)
	// Commit stores points and reports whether any of them was new or changed
	// a stored value. Committing the same points twice reports false.
	Commit(ctx context.Context, variableID string, points []types.SeriesPoint) (bool, error)
}

// BackfillResult is the outcome of paginating one command service.
type BackfillResult struct {
	// Updated lists the variables whose commit applied new data.
	Updated []string
	// Found is true for variables with at least one point in a response. It
	// is nil when no window was attempted because the start couldn't be
	// computed.
	Found map[string]bool
	// Windows are the windows requested, in order.
	Windows []types.Window
	// Err is why pagination stopped early, nil when it ran to the last
	// window.
	Err error
}

// accumulator collects points across windows until the final flush.
type accumulator struct {
	points map[string][]types.SeriesPoint
	found  map[string]bool
}

func newAccumulator() accumulator {
	return accumulator{
		points: make(map[string][]types.SeriesPoint),
		found:  make(map[string]bool),
	}
}

func (a accumulator) add(variableID string, p types.SeriesPoint) {
	a.points[variableID] = append(a.points[variableID], p)
	a.found[variableID] = true
}

// ComputeStart returns the first date to request for the variables: the
// earliest latest-point date, or the history horizon if any variable has no
// history. Starts older than the horizon are moved up to it.
func ComputeStart(ctx context.Context, history History, variableIDs []string, spec types.ServiceSpec, today time.Time) (time.Time, error) {
	horizon := subMonths(today, spec.MaxHistoryMonths).AddDate(0, 0, 1)
	start := today
	for _, id := range variableIDs {
		last, ok, err := history.QueryPrevValue(ctx, id)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to query history of %s: %w", id, err)
		}
		if !ok {
			return horizon, nil
		}
		if d := dateOf(last, today.Location()); d.Before(start) {
			start = d
		}
	}
	if start.Before(horizon) {
		log.Ctx(ctx).DebugContext(ctx, "history older than the horizon", slog.Time("start", start), slog.Time("horizon", horizon))
		start = horizon
	}
	return start, nil
}

// nextWindow returns the window starting at from, false once there is
// nothing left to request.
func nextWindow(from, today time.Time, spec types.ServiceSpec) (types.Window, bool) {
	w := types.Window{From: from, To: today}
	if spec.WindowDays > 0 {
		w.To = from.AddDate(0, 0, spec.WindowDays)
	}
	if yesterday := today.AddDate(0, 0, -1); w.To.After(yesterday) {
		w.To = yesterday
		w.Final = true
	}
	if !w.To.After(w.From) {
		return types.Window{}, false
	}
	return w, true
}

// Backfill requests every window from the computed start up to yesterday and
// commits what was found, once per variable. Every variable must be bound to
// svc.
func Backfill(ctx context.Context, cfg Config, inv sge.Invoker, params sge.Params, svc types.CommandService, vars []types.BoundVariable, history History) BackfillResult {
	ctx = log.WithAttrs(ctx, slog.String("commandService", string(svc)))
	var res BackfillResult
	spec, ok := svc.Spec()
	if !ok {
		res.Err = types.UnknownCommandServiceError{Value: svc}
		return res
	}

	ids := make([]string, 0, len(vars))
	for _, v := range vars {
		ids = append(ids, v.Variable.ID)
	}

	loc := cfg.location()
	today := dateOf(cfg.now(), loc)
	from, err := ComputeStart(ctx, history, ids, spec, today)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to compute backfill start", slog.Any("error", err))
		res.Err = err
		return res
	}
	log.Ctx(ctx).InfoContext(ctx, "starting backfill", slog.String("from", from.Format(types.DateLayout)))

	res.Found = make(map[string]bool, len(ids))
	acc := newAccumulator()
	for {
		w, ok := nextWindow(from, today, spec)
		if !ok {
			break
		}
		res.Windows = append(res.Windows, w)
		if err := fetchWindow(ctx, cfg, inv, params, w, vars, acc); err != nil {
			res.Err = err
			break
		}
		if w.Final {
			break
		}
		from = w.To
	}

	for _, id := range ids {
		res.Found[id] = acc.found[id]
		points := acc.points[id]
		if len(points) == 0 {
			continue
		}
		applied, err := history.Commit(ctx, id, points)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to commit points", slog.String("variableID", id), slog.Any("error", err))
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "committed points", slog.String("variableID", id), slog.Int("points", len(points)), slog.Bool("applied", applied))
		if applied {
			res.Updated = append(res.Updated, id)
		}
	}
	return res
}

// fetchWindow requests a window until it succeeds, is skipped or the attempts
// run out. The returned error stops pagination.
func fetchWindow(ctx context.Context, cfg Config, inv sge.Invoker, params sge.Params, w types.Window, vars []types.BoundVariable, acc accumulator) error {
	params.From = w.From
	params.To = w.To
	attrs := []any{
		slog.String("from", w.From.Format(types.DateLayout)),
		slog.String("to", w.To.Format(types.DateLayout)),
	}

	attempts := cfg.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		root, err := invokeAndParse(ctx, inv, params)
		if err == nil {
			accumulate(ctx, cfg.location(), root, vars, acc)
			return nil
		}
		lastErr = err

		switch sge.KindOf(err) {
		case sge.KindFunctional:
			log.Ctx(ctx).InfoContext(ctx, "window rejected, skipping", append(attrs, slog.Any("error", err))...)
			return nil
		case sge.KindFatal:
			log.Ctx(ctx).WarnContext(ctx, "fatal sge error, stopping backfill", append(attrs, slog.Any("error", err))...)
			return err
		}

		log.Ctx(ctx).WarnContext(ctx, "window request failed", append(attrs, slog.Int("attempt", attempt), slog.Any("error", err))...)
		if attempt < attempts {
			if err := cfg.sleep(ctx, cfg.RetryBackoff); err != nil {
				return err
			}
		}
	}
	log.Ctx(ctx).ErrorContext(ctx, "giving up on command service", append(attrs, slog.Int("attempts", attempts))...)
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr)
}

func invokeAndParse(ctx context.Context, inv sge.Invoker, params sge.Params) (*xmlquery.Node, error) {
	body, err := inv.Invoke(ctx, params)
	if err != nil {
		return nil, err
	}
	return extract.Parse(body)
}

func accumulate(ctx context.Context, loc *time.Location, root *xmlquery.Node, vars []types.BoundVariable, acc accumulator) {
	for _, v := range vars {
		for _, raw := range extract.Series(ctx, root, v.Binding.PathExpression) {
			ts, err := Normalize(raw.Date, loc)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "skipping point", slog.String("variableID", v.Variable.ID), slog.Any("error", err))
				continue
			}
			acc.add(v.Variable.ID, types.SeriesPoint{Timestamp: ts, Value: raw.Value})
		}
	}
}
