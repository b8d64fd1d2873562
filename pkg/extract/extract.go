// Package extract pulls values out of SGE response documents using the path
// expressions of variable bindings.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/raterudder/sgetiers/pkg/log"
)

// RawPoint is a series node's date and value text, before normalization.
type RawPoint struct {
	Date  string
	Value string
}

// Parse parses a raw response payload into a queryable tree.
func Parse(payload []byte) (*xmlquery.Node, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	root, err := xmlquery.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	return root, nil
}

// Nodes returns every node matching the XPath expression.
func Nodes(root *xmlquery.Node, path string) ([]*xmlquery.Node, error) {
	nodes, err := xmlquery.QueryAll(root, path)
	if err != nil {
		return nil, fmt.Errorf("invalid path expression %q: %w", path, err)
	}
	return nodes, nil
}

// Scalar returns the text of the single node matching path. A missing node
// is logged and reported as not found. When several nodes match the first one
// wins.
func Scalar(ctx context.Context, root *xmlquery.Node, path string) (string, bool) {
	nodes, err := Nodes(root, path)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to query scalar", slog.String("path", path), slog.Any("error", err))
		return "", false
	}
	switch len(nodes) {
	case 0:
		log.Ctx(ctx).WarnContext(ctx, "value not found in response", slog.String("path", path))
		return "", false
	case 1:
	default:
		log.Ctx(ctx).InfoContext(ctx, "value found more than once in response", slog.String("path", path), slog.Int("count", len(nodes)))
	}
	return strings.TrimSpace(nodes[0].InnerText()), true
}

// Series returns the date/value pairs of every node matching path. Each node
// must have a d and a v child; nodes missing either are skipped.
func Series(ctx context.Context, root *xmlquery.Node, path string) []RawPoint {
	nodes, err := Nodes(root, path)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to query series", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	if len(nodes) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "series not found in response", slog.String("path", path))
		return nil
	}

	points := make([]RawPoint, 0, len(nodes))
	for _, n := range nodes {
		d, ok := firstChild(ctx, n, "d", path)
		if !ok {
			continue
		}
		v, ok := firstChild(ctx, n, "v", path)
		if !ok {
			continue
		}
		points = append(points, RawPoint{Date: d, Value: v})
	}
	return points
}

func firstChild(ctx context.Context, n *xmlquery.Node, name, path string) (string, bool) {
	children := n.SelectElements(name)
	if len(children) == 0 {
		log.Ctx(ctx).WarnContext(ctx, "series node without "+name, slog.String("path", path))
		return "", false
	}
	if len(children) > 1 {
		log.Ctx(ctx).WarnContext(
			ctx,
			"series node with more than one "+name+", using the first",
			slog.String("path", path),
			slog.Int("count", len(children)),
		)
	}
	return strings.TrimSpace(children[0].InnerText()), true
}
