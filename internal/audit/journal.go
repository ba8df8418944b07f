// Package audit writes the run journal: an append-only JSON-lines record of
// analysis runs, pipeline stages and exports, kept separate from the
// application log so operators can reconstruct what every run did.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/enrolytics/enrolytics/internal/config"
)

// Journal defines the interface for run journaling
type Journal interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Run lifecycle
	LogRunStarted(ctx context.Context, runID string) error
	LogRunCompleted(ctx context.Context, runID string, regions, consensus int, duration time.Duration) error
	LogRunFailed(ctx context.Context, runID string, err error) error

	// Pipeline stages
	LogInputLoaded(ctx context.Context, runID string, regions, rows int) error
	LogDetectorCompleted(ctx context.Context, runID, detector string, flagged int, duration time.Duration) error
	LogDetectorSkipped(ctx context.Context, runID, detector, reason string) error

	// Outputs
	LogExportWritten(ctx context.Context, runID, path string, rows int) error
	LogReportPersisted(ctx context.Context, runID, database string) error

	// Sync flushes buffered entries
	Sync() error

	// Close stops the flush loop and flushes remaining entries
	Close() error
}

// journal implements Journal with a buffered, rotating JSON-lines writer
type journal struct {
	logger      *zap.Logger
	mu          sync.Mutex
	buffer      []*Event
	bufferSize  int
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewJournal creates a run journal from the audit configuration.
func NewJournal(cfg *config.Config) (Journal, error) {
	if !cfg.Audit.Enabled {
		return NewNop(), nil
	}
	if cfg.Audit.File == "" {
		return nil, fmt.Errorf("audit enabled but no file configured")
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Audit.File,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}

	// Journal entries are always recorded, independent of the app log level.
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	j := &journal{
		logger:      zap.New(core),
		buffer:      make([]*Event, 0, cfg.Audit.BufferSize),
		bufferSize:  cfg.Audit.BufferSize,
		flushTicker: time.NewTicker(time.Duration(cfg.Audit.FlushInterval) * time.Second),
		stopCh:      make(chan struct{}),
	}

	go j.autoFlush()

	return j, nil
}

// Log records an audit event
func (j *journal) Log(ctx context.Context, event *Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.buffer = append(j.buffer, event)

	if len(j.buffer) >= j.bufferSize {
		return j.flushLocked()
	}

	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (j *journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}

	for _, event := range j.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			continue
		}

		j.logger.Info(string(eventJSON),
			zap.String("run_id", event.RunID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	j.buffer = j.buffer[:0]

	return nil
}

// autoFlush periodically flushes the buffer
func (j *journal) autoFlush() {
	for {
		select {
		case <-j.flushTicker.C:
			j.mu.Lock()
			_ = j.flushLocked()
			j.mu.Unlock()
		case <-j.stopCh:
			return
		}
	}
}

// LogRunStarted records the start of an analysis run
func (j *journal) LogRunStarted(ctx context.Context, runID string) error {
	event := NewEvent(EventRunStarted).
		WithRunID(runID).
		WithDescription(fmt.Sprintf("Analysis run %s started", runID))

	return j.Log(ctx, event)
}

// LogRunCompleted records a finished run with its headline counts
func (j *journal) LogRunCompleted(ctx context.Context, runID string, regions, consensus int, duration time.Duration) error {
	event := NewEvent(EventRunCompleted).
		WithRunID(runID).
		WithDuration(duration).
		WithMetadata("regions", regions).
		WithMetadata("consensus_flagged", consensus).
		WithDescription(fmt.Sprintf("Analysis run %s completed", runID))

	return j.Log(ctx, event)
}

// LogRunFailed records a failed run
func (j *journal) LogRunFailed(ctx context.Context, runID string, err error) error {
	event := NewEvent(EventRunFailed).
		WithRunID(runID).
		WithError(err).
		WithDescription(fmt.Sprintf("Analysis run %s failed", runID))

	return j.Log(ctx, event)
}

// LogInputLoaded records the validated input shape
func (j *journal) LogInputLoaded(ctx context.Context, runID string, regions, rows int) error {
	event := NewEvent(EventInputLoaded).
		WithRunID(runID).
		WithMetadata("regions", regions).
		WithMetadata("rows", rows).
		WithDescription(fmt.Sprintf("Loaded %d rows across %d regions", rows, regions))

	return j.Log(ctx, event)
}

// LogDetectorCompleted records a detector pass
func (j *journal) LogDetectorCompleted(ctx context.Context, runID, detector string, flagged int, duration time.Duration) error {
	event := NewEvent(EventDetectorCompleted).
		WithRunID(runID).
		WithDetector(detector).
		WithDuration(duration).
		WithMetadata("flagged", flagged).
		WithDescription(fmt.Sprintf("Detector %s flagged %d regions", detector, flagged))

	return j.Log(ctx, event)
}

// LogDetectorSkipped records a detector that could not run
func (j *journal) LogDetectorSkipped(ctx context.Context, runID, detector, reason string) error {
	event := NewEvent(EventDetectorSkipped).
		WithRunID(runID).
		WithDetector(detector).
		WithResult(ResultSkipped).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("Detector %s skipped: %s", detector, reason))

	return j.Log(ctx, event)
}

// LogExportWritten records an exported table
func (j *journal) LogExportWritten(ctx context.Context, runID, path string, rows int) error {
	event := NewEvent(EventExportWritten).
		WithRunID(runID).
		WithMetadata("path", path).
		WithMetadata("rows", rows).
		WithDescription(fmt.Sprintf("Wrote %d rows to %s", rows, path))

	return j.Log(ctx, event)
}

// LogReportPersisted records a run stored in the result database
func (j *journal) LogReportPersisted(ctx context.Context, runID, database string) error {
	event := NewEvent(EventReportPersisted).
		WithRunID(runID).
		WithMetadata("database", database).
		WithDescription(fmt.Sprintf("Run %s persisted to %s", runID, database))

	return j.Log(ctx, event)
}

// Sync flushes buffered entries
func (j *journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.flushLocked(); err != nil {
		return err
	}

	return j.logger.Sync()
}

// Close stops the flush loop and flushes remaining entries
func (j *journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.stopCh)
		j.flushTicker.Stop()
		err = j.Sync()
	})
	return err
}
