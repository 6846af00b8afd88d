package backend

import (
	"context"
	"path/filepath"
	"testing"

	"pairxpenses/internal/config"
	sheetsmem "pairxpenses/internal/sheets/memory"
	"pairxpenses/internal/storage"
	"pairxpenses/internal/storage/memory"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", GoogleReportSheetName: "Settlements"})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" || cfg.GoogleReportSheetName != "Settlements" {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "a.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"unknown", Config{Type: "postgres"}, true},
		{"sheet without credentials", Config{Type: MemoryBackend, GoogleSpreadsheetID: "id", GoogleReportSheetName: "S"}, true},
		{"sheet without name", Config{Type: MemoryBackend, GoogleSpreadsheetID: "id", GoogleServiceAccountJSON: "{}"}, true},
		{"sheet complete", Config{Type: MemoryBackend, GoogleSpreadsheetID: "id", GoogleReportSheetName: "S", GoogleServiceAccountFile: "sa.json"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	got := GetBackendTypeStrings()
	if len(got) != 2 || got[0] != "sqlite" || got[1] != "memory" {
		t.Errorf("GetBackendTypeStrings() = %v", got)
	}
}

func TestCreateMemoryBackend(t *testing.T) {
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	if _, ok := res.Store.(*memory.Store); !ok {
		t.Errorf("store = %T, want *memory.Store", res.Store)
	}
	if err := res.Cleanup(); err != nil {
		t.Errorf("Cleanup: %v", err)
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer res.Cleanup()

	if _, ok := res.Store.(*storage.SQLiteRepository); !ok {
		t.Fatalf("store = %T, want *storage.SQLiteRepository", res.Store)
	}
	users, err := res.Store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("got %d seeded users, want 2", len(users))
	}
}

func TestCreateExporterDefaultsToMemory(t *testing.T) {
	res, err := NewFactory(nil).CreateExporter(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatalf("CreateExporter: %v", err)
	}
	if res.Remote {
		t.Error("memory exporter reported as remote")
	}
	if _, ok := res.Exporter.(*sheetsmem.Exporter); !ok {
		t.Errorf("exporter = %T, want *memory.Exporter", res.Exporter)
	}
}
