package backend

import (
	"context"

	"pairxpenses/internal/sheets"
	"pairxpenses/internal/storage"
)

// CleanupFunc releases the resources behind a created backend.
type CleanupFunc func() error

// BackendResult contains the store and an optional cleanup function.
type BackendResult struct {
	Store   storage.LedgerStore
	Cleanup CleanupFunc
}

// ExporterResult is the report sink picked for the worker.
type ExporterResult struct {
	Exporter sheets.ReportExporter
	// Remote is false for the in-memory exporter.
	Remote bool
}

// Factory creates the ledger store and the report exporter from configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
	CreateExporter(ctx context.Context, config Config) (*ExporterResult, error)
}

type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets report export; empty SpreadsheetID selects the memory exporter
	GoogleSpreadsheetID      string
	GoogleReportSheetName    string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
