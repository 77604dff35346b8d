// Package gateway implements the GatewayService RPC handlers offered to
// devices: relaying requests to the backend, buffering device logs and
// answering health pings.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pion/logging"
	"github.com/werkstattwaedi/machine-auth/pkg/backend"
)

// DefaultMaxErrorLength is the number of error characters relayed to a
// device before truncation. Devices store the error in a 128-byte field.
const DefaultMaxErrorLength = 120

// truncationMarker is appended to truncated error strings.
const truncationMarker = "..."

// Forwarder relays a payload to the backend. backend.Client implements it.
type Forwarder interface {
	Forward(ctx context.Context, endpoint string, payload []byte, deviceID uint64) backend.Result
}

var _ Forwarder = (*backend.Client)(nil)

// LogEntry is a device log entry held in memory until uploaded.
type LogEntry struct {
	DeviceID    uint64
	TimestampMs uint64
	Level       LogLevel
	Module      string
	Message     string
	Data        string
}

// Config configures a Service.
type Config struct {
	// Forwarder relays Forward calls. Required.
	Forwarder Forwarder

	// MaxErrorLength bounds the error string of ForwardResponse.
	// Zero selects DefaultMaxErrorLength; negative disables truncation.
	MaxErrorLength int

	// Now returns the gateway clock (default: time.Now).
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Service implements the gateway RPC methods. It is shared by all
// connections and safe for concurrent use.
type Service struct {
	forwarder    Forwarder
	maxErrorLen  int
	now          func() time.Time
	log          logging.LeveledLogger
	deviceLogger logging.LeveledLogger

	mu          sync.Mutex
	pendingLogs []LogEntry
}

// NewService creates a Service.
func NewService(config Config) (*Service, error) {
	if config.Forwarder == nil {
		return nil, ErrNoForwarder
	}

	s := &Service{
		forwarder:   config.Forwarder,
		maxErrorLen: config.MaxErrorLength,
		now:         config.Now,
	}
	if s.maxErrorLen == 0 {
		s.maxErrorLen = DefaultMaxErrorLength
	}
	if s.now == nil {
		s.now = time.Now
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("gateway")
		s.deviceLogger = config.LoggerFactory.NewLogger("device")
	}

	return s, nil
}

// Forward relays req to the backend and maps the outcome into a response.
// Backend failures, including panics in the forwarder, are reported in the
// response rather than returned.
func (s *Service) Forward(ctx context.Context, req *ForwardRequest, deviceID uint64) *ForwardResponse {
	if s.log != nil {
		s.log.Infof("forward request: endpoint=%s request_id=%d payload_size=%d device=%016X",
			req.Endpoint, req.RequestID, len(req.Payload), deviceID)
	}

	result := s.callForwarder(ctx, req, deviceID)

	return &ForwardResponse{
		Success:    result.Success,
		Payload:    result.Payload,
		HTTPStatus: uint32(result.HTTPStatus),
		Error:      TruncateError(result.Error, s.maxErrorLen),
		RequestID:  req.RequestID,
	}
}

func (s *Service) callForwarder(ctx context.Context, req *ForwardRequest, deviceID uint64) (result backend.Result) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Errorf("forwarder panic: %v", r)
			}
			result = backend.Result{Error: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()
	return s.forwarder.Forward(ctx, req.Endpoint, req.Payload, deviceID)
}

// PersistLog buffers a device log entry in memory.
func (s *Service) PersistLog(req *LogRequest, deviceID uint64) *LogResponse {
	if s.deviceLogger != nil {
		suffix := ""
		if req.Data != "" {
			suffix = " (" + req.Data + ")"
		}
		s.deviceLogger.Infof("[%s] %s: %s%s", req.Level.Letter(), req.Module, req.Message, suffix)
	}

	s.mu.Lock()
	s.pendingLogs = append(s.pendingLogs, LogEntry{
		DeviceID:    deviceID,
		TimestampMs: req.TimestampMs,
		Level:       req.Level,
		Module:      req.Module,
		Message:     req.Message,
		Data:        req.Data,
	})
	count := len(s.pendingLogs)
	s.mu.Unlock()

	return &LogResponse{
		Success:      true,
		PendingCount: uint32(count),
	}
}

// Ping stamps the gateway clock next to the device clock.
func (s *Service) Ping(req *PingRequest) *PingResponse {
	gatewayMs := uint64(s.now().UnixMilli())

	if s.log != nil {
		s.log.Debugf("ping: client_ts=%d gateway_ts=%d delta=%d ms",
			req.ClientTimestampMs, gatewayMs, int64(gatewayMs)-int64(req.ClientTimestampMs))
	}

	return &PingResponse{
		GatewayTimestampMs: gatewayMs,
		ClientTimestampMs:  req.ClientTimestampMs,
	}
}

// PendingLogCount returns the number of buffered log entries.
func (s *Service) PendingLogCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingLogs)
}

// PendingLogs returns a copy of the buffered log entries.
func (s *Service) PendingLogs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.pendingLogs))
	copy(out, s.pendingLogs)
	return out
}

// ClearPendingLogs drops all buffered log entries.
func (s *Service) ClearPendingLogs() {
	s.mu.Lock()
	s.pendingLogs = nil
	s.mu.Unlock()
}

// TruncateError shortens msg to at most max bytes plus a "..." marker,
// cutting on a UTF-8 boundary. A negative max disables truncation.
func TruncateError(msg string, max int) string {
	if max < 0 || len(msg) <= max {
		return msg
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + truncationMarker
}
