package apitable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds each APITable request.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes    = 16 << 20
	instrumentationName = "github.com/bturcanu/openclause-apitable/pkg/apitable"
)

// Call describes one dispatched invocation.
type Call struct {
	// Request is the zero value when resolution failed.
	Request Request
	// StatusCode is zero when no HTTP response was received.
	StatusCode int
	// Message is always set, including on failure.
	Message Message
}

// Dispatcher resolves invocations and performs the APITable request. It keeps
// no per-call state and is safe for concurrent use.
type Dispatcher struct {
	log        *slog.Logger
	httpClient *http.Client
	tracer     trace.Tracer
	calls      metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewDispatcher creates a dispatcher using the global OpenTelemetry providers.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	meter := otel.Meter(instrumentationName)
	calls, err := meter.Int64Counter("apitable.calls",
		metric.WithDescription("APITable invocations by action and outcome"))
	if err != nil {
		log.Warn("apitable call counter unavailable", "error", err)
		calls = noop.Int64Counter{}
	}
	latency, err := meter.Float64Histogram("apitable.call.duration",
		metric.WithDescription("APITable invocation latency"),
		metric.WithUnit("ms"))
	if err != nil {
		log.Warn("apitable latency histogram unavailable", "error", err)
		latency = noop.Float64Histogram{}
	}
	return &Dispatcher{
		log:        log,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tracer:     otel.Tracer(instrumentationName),
		calls:      calls,
		latency:    latency,
	}
}

// SetHTTPClient replaces the HTTP client, e.g. to route through a test server.
func (d *Dispatcher) SetHTTPClient(c *http.Client) {
	d.httpClient = c
}

// Invoke runs one invocation and always returns exactly one message.
func (d *Dispatcher) Invoke(ctx context.Context, p Params, creds Credentials) Message {
	call, _ := d.Dispatch(ctx, p, creds)
	return call.Message
}

// InvokeMap is Invoke for hosts that hold parameters and credentials as
// plain mappings.
func (d *Dispatcher) InvokeMap(ctx context.Context, params map[string]any, creds map[string]string) Message {
	p, err := ParamsFromMap(params)
	if err != nil {
		return TextMessage("Error: " + err.Error())
	}
	return d.Invoke(ctx, p, CredentialsFromMap(creds))
}

// Dispatch resolves p, applies the read-only gate and performs at most one
// HTTP request. On failure the returned Call still carries the rendered
// error message.
func (d *Dispatcher) Dispatch(ctx context.Context, p Params, creds Credentials) (call Call, err error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "apitable.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("apitable.action", p.Action)),
	)
	defer func() {
		if err != nil {
			call.Message = ErrorMessage(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorCode(err))
		}
		d.observe(ctx, call, err, time.Since(start))
		span.End()
	}()

	req, err := Resolve(p)
	if err != nil {
		return call, err
	}
	call.Request = req
	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("apitable.path", req.Path),
	)

	if creds.ReadOnly && req.Method != http.MethodGet {
		return call, fmt.Errorf("%s %s: %w", req.Method, req.Path, ErrReadOnly)
	}

	status, body, err := d.do(ctx, req, creds)
	call.StatusCode = status
	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		return call, &TransportError{Err: err}
	}
	call.Message = responseMessage(status, body)
	return call, nil
}

// do sends req and returns the status code and the complete response body.
func (d *Dispatcher) do(ctx context.Context, req Request, creds Credentials) (int, []byte, error) {
	target, err := requestURL(req, creds.baseURL())
	if err != nil {
		return 0, nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	if len(respBody) > maxResponseBytes {
		return resp.StatusCode, nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}
	return resp.StatusCode, respBody, nil
}

// requestURL joins base and path and merges the flattened query payload into
// any query already present on the endpoint.
func requestURL(req Request, base string) (string, error) {
	target := req.URL(base)
	query, err := req.Query()
	if err != nil {
		return "", err
	}
	if len(query) == 0 {
		return target, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	merged := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			merged.Add(k, v)
		}
	}
	u.RawQuery = merged.Encode()
	return u.String(), nil
}

func (d *Dispatcher) observe(ctx context.Context, call Call, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	}
	attrs := metric.WithAttributes(
		attribute.String("action", string(call.Request.Action)),
		attribute.String("method", call.Request.Method),
		attribute.String("outcome", outcome),
	)
	d.calls.Add(ctx, 1, attrs)
	d.latency.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	var transport *TransportError
	switch {
	case errors.As(err, &transport):
		d.log.WarnContext(ctx, "apitable call failed",
			"action", call.Request.Action,
			"method", call.Request.Method,
			"path", call.Request.Path,
			"error", err,
		)
	case err != nil:
		d.log.InfoContext(ctx, "apitable call rejected",
			"action", call.Request.Action,
			"code", outcome,
			"error", err,
		)
	default:
		d.log.DebugContext(ctx, "apitable call completed",
			"action", call.Request.Action,
			"method", call.Request.Method,
			"path", call.Request.Path,
			"status", call.StatusCode,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}
