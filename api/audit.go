package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"battery-pricing/internal/logging"
)

// AuditEntry records one simulate request
type AuditEntry struct {
	Timestamp      time.Time `json:"timestamp"`
	RequestID      string    `json:"request_id,omitempty"`
	ClientIP       string    `json:"client_ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	RulesetName    string    `json:"ruleset_name,omitempty"`
	RulesetVersion string    `json:"ruleset_version,omitempty"`
	Items          int       `json:"items"`
	InputHash      string    `json:"input_hash,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	DurationMs     int64     `json:"duration_ms"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}

// AuditLogger records simulate requests for later replay
type AuditLogger interface {
	Log(entry AuditEntry) error
}

// LogAuditLogger writes audit entries through the process logger
type LogAuditLogger struct{}

// Log implements AuditLogger
func (LogAuditLogger) Log(e AuditEntry) error {
	logging.Info("audit",
		zap.Time("timestamp", e.Timestamp),
		zap.String("request_id", e.RequestID),
		zap.String("client_ip", e.ClientIP),
		logging.Ruleset(e.RulesetName, e.RulesetVersion),
		zap.Int("items", e.Items),
		zap.String("input_hash", e.InputHash),
		logging.RunID(e.RunID),
		zap.Int64("duration_ms", e.DurationMs),
		zap.Bool("success", e.Success),
		zap.String("error", e.Error),
	)
	return nil
}

func newAuditEntry(r *http.Request, items int) AuditEntry {
	return AuditEntry{
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetReqID(r.Context()),
		ClientIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Items:     items,
		Success:   true,
	}
}

// MarkFailed marks the audit entry as failed
func (e *AuditEntry) MarkFailed(err error) {
	e.Success = false
	e.Error = err.Error()
}

func (s *Server) audit(e AuditEntry) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Log(e); err != nil {
		logging.Warn("failed to write audit entry", zap.Error(err))
	}
}
