// Package sge talks to the Enedis SGE Tiers B2B web services.
package sge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/raterudder/sgetiers/pkg/log"
	"github.com/raterudder/sgetiers/pkg/types"
	"golang.org/x/time/rate"
)

const (
	// ProductionURL is the SGE B2B production gateway.
	ProductionURL = "https://sge-b2b.enedis.fr"
	// HomologationURL is the SGE B2B test gateway.
	HomologationURL = "https://sge-homologation-b2b.enedis.fr"

	cadreAccordClient = "ACCORD_CLIENT"
	maxResponseSize   = 32 << 20
)

// Params are the inputs of a request. MeasureType and CurveType are filled in
// by the Invoker from its command service; From and To only matter for
// series services.
type Params struct {
	Login         string
	PRM           string
	Authorization bool
	Corrected     bool
	MeasureType   types.MeasureType
	CurveType     string
	From          time.Time
	To            time.Time
}

// Cadre is the access framework sent with detailed measurement requests.
func (p Params) Cadre() string {
	if p.Authorization {
		return cadreAccordClient
	}
	return ""
}

// Invoker sends requests for one command service.
type Invoker interface {
	// Invoke returns the raw response body. Failures are *Error or transport
	// errors, see KindOf.
	Invoke(ctx context.Context, p Params) ([]byte, error)
}

// Backend configures an Invoker for a command service.
type Backend interface {
	Configure(svc types.CommandService) (Invoker, error)
}

// Client is an SGE client bound to one certificate.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient returns a client posting to baseURL. A nil limiter disables rate
// limiting.
func NewClient(baseURL string, client *http.Client, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Client{
		baseURL: baseURL,
		client:  client,
		limiter: limiter,
	}
}

// Configure returns the Invoker for the command service.
func (c *Client) Configure(svc types.CommandService) (Invoker, error) {
	spec, ok := svc.Spec()
	if !ok {
		return nil, types.UnknownCommandServiceError{Value: svc}
	}
	var path, action string
	switch spec.Operation {
	case types.OperationTechnical:
		path, action = technicalPath, technicalCall
	case types.OperationDetailsV3:
		path, action = detailsV3Path, detailsV3Call
	default:
		return nil, fmt.Errorf("command service %s has no operation", svc)
	}
	return &operation{
		client: c,
		svc:    svc,
		spec:   spec,
		path:   path,
		action: action,
	}, nil
}

type operation struct {
	client *Client
	svc    types.CommandService
	spec   types.ServiceSpec
	path   string
	action string
}

// Invoke implements the Invoker interface.
func (o *operation) Invoke(ctx context.Context, p Params) ([]byte, error) {
	p.MeasureType = o.spec.MeasureType
	p.CurveType = o.spec.CurveType
	body, err := buildEnvelope(o.spec.Operation, p)
	if err != nil {
		return nil, err
	}
	req, err := o.client.newSOAPRequest(ctx, o.path, o.action, body)
	if err != nil {
		return nil, err
	}
	return o.client.doRequest(req, o.svc)
}

func (c *Client) newSOAPRequest(ctx context.Context, endpoint, action string, body []byte) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)
	return req, nil
}

func (c *Client) doRequest(req *http.Request, svc types.CommandService) ([]byte, error) {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read sge response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || isFault(body) {
		sgeErr := classify(resp.StatusCode, body)
		log.Ctx(ctx).DebugContext(
			ctx,
			"sge request failed",
			slog.String("commandService", string(svc)),
			slog.Int("status", resp.StatusCode),
			slog.String("kind", sgeErr.Kind.String()),
			slog.String("code", sgeErr.Code),
		)
		return nil, sgeErr
	}
	log.Ctx(ctx).DebugContext(ctx, "sge request success", slog.String("commandService", string(svc)), slog.Int("bytes", len(body)))
	return body, nil
}
