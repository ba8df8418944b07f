package audit

import (
	"context"
	"time"
)

// nopJournal discards all events. Used when auditing is disabled.
type nopJournal struct{}

// NewNop returns a journal that records nothing.
func NewNop() Journal {
	return nopJournal{}
}

func (nopJournal) Log(ctx context.Context, event *Event) error { return nil }
func (nopJournal) LogRunStarted(ctx context.Context, runID string) error {
	return nil
}
func (nopJournal) LogRunCompleted(ctx context.Context, runID string, regions, consensus int, duration time.Duration) error {
	return nil
}
func (nopJournal) LogRunFailed(ctx context.Context, runID string, err error) error {
	return nil
}
func (nopJournal) LogInputLoaded(ctx context.Context, runID string, regions, rows int) error {
	return nil
}
func (nopJournal) LogDetectorCompleted(ctx context.Context, runID, detector string, flagged int, duration time.Duration) error {
	return nil
}
func (nopJournal) LogDetectorSkipped(ctx context.Context, runID, detector, reason string) error {
	return nil
}
func (nopJournal) LogExportWritten(ctx context.Context, runID, path string, rows int) error {
	return nil
}
func (nopJournal) LogReportPersisted(ctx context.Context, runID, database string) error {
	return nil
}
func (nopJournal) Sync() error  { return nil }
func (nopJournal) Close() error { return nil }
