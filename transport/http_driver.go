package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/workernode/log"
	"github.com/pithecene-io/workernode/types"
)

// DefaultMaxRetryCount is the default attempt cap for the request/response
// driver's exponential backoff, per spec §4.2.
const DefaultMaxRetryCount = 3

// httpBackoffBase is the backoff base; each retry doubles it, per spec §4.2.
const httpBackoffBase = 1 * time.Second

// longPollTimeout bounds how long a dispatch/control long-poll GET waits
// for the Master to have something to return.
const longPollTimeout = 30 * time.Second

// HTTPDriver is the request/response fallback driver: a pooled HTTP client
// POSTing sends and long-polling for dispatch/cancel, grounded on
// adapter/webhook.go's retry/backoff/4xx-vs-5xx classification.
type HTTPDriver struct {
	logger *log.Logger

	client *http.Client
	cfg    types.ConnectionConfig

	connected atomic.Bool
	counters  *counters

	onDispatch      TaskDispatchFunc
	onCancel        TaskCancelFunc
	onConfigUpdate  ConfigUpdateFunc
	onRuntimeManage RuntimeManageFunc

	stopPolling context.CancelFunc
	pollWG      sync.WaitGroup

	// MaxRetryCount overrides DefaultMaxRetryCount when > 0. Exposed as a
	// field (not a Config param) since Connect's signature is fixed by
	// Protocol.
	MaxRetryCount int
}

// NewHTTPDriver creates an HTTPDriver. logger may be nil.
func NewHTTPDriver(logger *log.Logger) *HTTPDriver {
	return &HTTPDriver{
		logger:   logger,
		client:   &http.Client{Timeout: 15 * time.Second},
		counters: newCounters(),
	}
}

// Connect performs a GET health probe and starts the dispatch/control
// long-poll loops.
func (d *HTTPDriver) Connect(ctx context.Context, cfg types.ConnectionConfig) error {
	endpoints := cfg.Endpoints()
	if len(endpoints) == 0 {
		return errors.New("transport: no master endpoint configured")
	}
	d.cfg = cfg

	if err := d.doWithRetry(ctx, http.MethodGet, "/health", nil); err != nil {
		d.connected.Store(false)
		return fmt.Errorf("transport: health probe: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	d.stopPolling = cancel
	d.pollWG.Add(2)
	go d.pollLoop(pollCtx, "/tasks/poll", d.handleDispatchBody)
	go d.pollLoop(pollCtx, "/control/poll", d.handleControlBody)

	d.connected.Store(true)
	return nil
}

// Disconnect stops the poll loops. The pooled client's connections are left
// to idle-timeout naturally.
func (d *HTTPDriver) Disconnect(ctx context.Context) error {
	d.connected.Store(false)
	if d.stopPolling != nil {
		d.stopPolling()
	}
	d.pollWG.Wait()
	d.client.CloseIdleConnections()
	return nil
}

func (d *HTTPDriver) pollLoop(ctx context.Context, path string, handle func([]byte)) {
	defer d.pollWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		body, err := d.doLongPoll(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			time.Sleep(httpBackoffBase)
			continue
		}
		if len(body) > 0 {
			handle(body)
		}
	}
}

func (d *HTTPDriver) handleDispatchBody(body []byte) {
	var msg types.TaskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		d.logMalformed("dispatch", err)
		return
	}
	if d.onDispatch != nil {
		d.onDispatch(msg)
	}
}

// handleControlBody demuxes a polled control message on ControlType, the
// same three-way split stream_driver.go's dispatch does on envelope type:
// cancel/kill go to onCancel, config_update and runtime_manage are
// re-decoded from the generic Payload map into their typed shape and
// routed to onConfigUpdate/onRuntimeManage.
func (d *HTTPDriver) handleControlBody(body []byte) {
	var msg types.ControlMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		d.logMalformed("control", err)
		return
	}

	switch msg.ControlType {
	case types.ControlConfigUpdate:
		var cfg types.ConfigUpdate
		if err := decodeControlPayload(msg.Payload, &cfg); err != nil {
			d.logMalformed("control.config_update", err)
			return
		}
		if d.onConfigUpdate != nil {
			d.onConfigUpdate(cfg)
		}
	case types.ControlRuntimeManage:
		var req types.RuntimeManageRequest
		if err := decodeControlPayload(msg.Payload, &req); err != nil {
			d.logMalformed("control.runtime_manage", err)
			return
		}
		if d.onRuntimeManage != nil {
			d.onRuntimeManage(req)
		}
	default:
		if d.onCancel != nil {
			d.onCancel(msg)
		}
	}
}

// decodeControlPayload round-trips a ControlMessage's generic Payload map
// through JSON into dst's concrete type.
func decodeControlPayload(payload map[string]any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (d *HTTPDriver) logMalformed(stream string, err error) {
	if d.logger == nil {
		return
	}
	d.logger.Warn("dropping malformed long-poll body", map[string]any{"stream": stream, "error": err.Error()})
}

func (d *HTTPDriver) doLongPoll(ctx context.Context, path string) ([]byte, error) {
	pollCtx, cancel := context.WithTimeout(ctx, longPollTimeout)
	defer cancel()

	u := d.cfg.Endpoints()[0] + path + "?timeout=" + strconv.Itoa(int(longPollTimeout.Seconds()))
	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	d.sign(req, nil)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return body, nil
}

// StatusError is returned for non-2xx HTTP responses, distinguishing
// retriable (5xx) from non-retriable (4xx) failures.
type StatusError struct{ Code int }

func (e *StatusError) Error() string { return fmt.Sprintf("transport: unexpected status %d", e.Code) }

// doWithRetry POSTs (or GETs, for health) body with exponential backoff,
// matching adapter/webhook.go's Publish retry loop.
func (d *HTTPDriver) doWithRetry(ctx context.Context, method, path string, body []byte) error {
	maxRetries := d.MaxRetryCount
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetryCount
	}
	attempts := maxRetries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			backoff := httpBackoffBase * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		start := time.Now()
		lastErr = d.doRequest(ctx, method, path, body)
		if lastErr == nil {
			d.counters.recordSend(len(body), time.Since(start))
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) {
			if statusErr.Code >= 400 && statusErr.Code < 500 {
				d.counters.recordError(CodeInvalidArgument)
				return fmt.Errorf("transport: non-retriable error: %w", lastErr)
			}
			d.counters.recordError(CodeInternal)
		} else {
			d.counters.recordError(CodeUnavailable)
		}
	}
	return fmt.Errorf("transport: failed after %d attempts: %w", attempts, lastErr)
}

func (d *HTTPDriver) doRequest(ctx context.Context, method, path string, body []byte) error {
	base := d.cfg.Endpoints()[0]
	u := base + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	d.sign(req, body)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// sign attaches the auth headers and, when a secret key is configured, an
// HMAC-SHA256 signature over timestamp.nonce.canonical_payload per
// SPEC_FULL.md §4.2.
func (d *HTTPDriver) sign(req *http.Request, body []byte) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := randomNonce()

	req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Nonce", nonce)
	req.Header.Set("X-Node-ID", d.cfg.NodeID)
	req.Header.Set("X-Machine-Code", d.cfg.MachineCode)

	if d.cfg.SecretKey == nil || *d.cfg.SecretKey == "" {
		return
	}
	mac := hmac.New(sha256.New, []byte(*d.cfg.SecretKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(nonce))
	mac.Write([]byte("."))
	mac.Write(body)
	req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
}

func randomNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func (d *HTTPDriver) jsonPost(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal %s body: %w", path, err)
	}
	return d.doWithRetry(ctx, http.MethodPost, path, body)
}

// SendHeartbeat implements Protocol.
func (d *HTTPDriver) SendHeartbeat(ctx context.Context, hb types.Heartbeat) error {
	return d.jsonPost(ctx, "/heartbeat", hb)
}

// SendLogs implements Protocol.
func (d *HTTPDriver) SendLogs(ctx context.Context, batch types.LogBatch) error {
	return d.jsonPost(ctx, "/logs", batch)
}

// SendTaskStatus implements Protocol.
func (d *HTTPDriver) SendTaskStatus(ctx context.Context, status types.TaskStatus) error {
	return d.jsonPost(ctx, "/tasks/status", status)
}

// SendTaskAck implements Protocol.
func (d *HTTPDriver) SendTaskAck(ctx context.Context, taskID string, accepted bool, reason string) error {
	return d.jsonPost(ctx, "/tasks/ack", taskAckPayload{TaskID: taskID, Accepted: accepted, Reason: reason})
}

// SendCancelAck implements Protocol.
func (d *HTTPDriver) SendCancelAck(ctx context.Context, taskID string, ok bool, reason string) error {
	return d.jsonPost(ctx, "/tasks/cancel-ack", cancelAckPayload{TaskID: taskID, OK: ok, Reason: reason})
}

// SendControlResult implements Protocol.
func (d *HTTPDriver) SendControlResult(ctx context.Context, result types.ControlResult) error {
	return d.jsonPost(ctx, "/control/result", result)
}

// OnTaskDispatch implements Protocol.
func (d *HTTPDriver) OnTaskDispatch(fn TaskDispatchFunc) { d.onDispatch = fn }

// OnTaskCancel implements Protocol.
func (d *HTTPDriver) OnTaskCancel(fn TaskCancelFunc) { d.onCancel = fn }

// OnConfigUpdate implements Protocol.
func (d *HTTPDriver) OnConfigUpdate(fn ConfigUpdateFunc) { d.onConfigUpdate = fn }

// OnRuntimeManage implements Protocol.
func (d *HTTPDriver) OnRuntimeManage(fn RuntimeManageFunc) { d.onRuntimeManage = fn }

// IsConnected implements Protocol.
func (d *HTTPDriver) IsConnected() bool { return d.connected.Load() }

// Metrics implements Protocol.
func (d *HTTPDriver) Metrics() DriverMetrics { return d.counters.snapshot() }

var _ Protocol = (*HTTPDriver)(nil)
