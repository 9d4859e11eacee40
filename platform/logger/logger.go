// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// TenantIDKey is the context key for tenant ID
	TenantIDKey contextKey = "tenant_id"
	// LeadIDKey is the context key for lead ID
	LeadIDKey contextKey = "lead_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id, tenant_id, and lead_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok && tenantID != "" {
		newLogger = newLogger.WithTenantID(tenantID)
	}

	if leadID, ok := ctx.Value(LeadIDKey).(string); ok && leadID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("lead_id", leadID))}
	}

	return newLogger
}

// WithTenantID returns a logger with tenant ID
func (l *Logger) WithTenantID(tenantID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("tenant_id", tenantID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// DatabaseError logs database errors
func (l *Logger) DatabaseError(operation string, err error) {
	l.Error("database_error",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// StageTransition logs a pipeline stage transition with its reason.
func (l *Logger) StageTransition(leadID, fromStage, toStage, reason string) {
	l.Info("stage_transition",
		slog.String("lead_id", leadID),
		slog.String("from", fromStage),
		slog.String("to", toStage),
		slog.String("reason", reason),
	)
}

// CampaignStep logs the outcome of a campaign step execution.
func (l *Logger) CampaignStep(applicationID string, stepNumber int, status string, err error) {
	if err != nil {
		l.Error("campaign_step",
			slog.String("application_id", applicationID),
			slog.Int("step", stepNumber),
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		return
	}
	l.Info("campaign_step",
		slog.String("application_id", applicationID),
		slog.Int("step", stepNumber),
		slog.String("status", status),
	)
}

// AdapterError logs an outbound adapter failure.
func (l *Logger) AdapterError(adapter, operation string, err error) {
	l.Error("adapter_error",
		slog.String("adapter", adapter),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
