// Package export renders entity version history to CSV and XLSX files for
// download by catalog users.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/metacat/internal/domain"
)

// HistorySource yields the recorded versions of an entity, newest first.
type HistorySource interface {
	ListVersions(ctx context.Context, id uuid.UUID) ([]domain.Entity, error)
}

var historyHeader = []string{
	"version", "updatedAt", "updatedBy", "deleted",
	"fieldsAdded", "fieldsUpdated", "fieldsDeleted",
}

// Service writes version history exports.
type Service struct {
	source    HistorySource
	exportDir string
}

// Option configures a Service.
type Option func(*Service)

// WithExportDirectory overrides where ExportHistoryFile writes its output.
func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

// NewService creates an export service over the given history source.
func NewService(source HistorySource, opts ...Option) *Service {
	s := &Service{
		source:    source,
		exportDir: filepath.Join(os.TempDir(), "metacat-exports"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteHistoryCSV streams the entity's version history as CSV to w.
func (s *Service) WriteHistoryCSV(ctx context.Context, w io.Writer, id uuid.UUID) error {
	versions, err := s.source.ListVersions(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}

	buffered := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(buffered)
	if err := csvWriter.Write(historyHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range versions {
		if err := csvWriter.Write(historyRow(e)); err != nil {
			return fmt.Errorf("write history row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	return buffered.Flush()
}

// HistoryWorkbook builds an XLSX workbook with one row per recorded version.
// The caller owns the returned file and must Close it.
func (s *Service) HistoryWorkbook(ctx context.Context, id uuid.UUID) (*excelize.File, error) {
	versions, err := s.source.ListVersions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "History"
	f.SetSheetName("Sheet1", sheet)

	header := make([]any, len(historyHeader))
	for i, name := range historyHeader {
		header[i] = name
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header row: %w", err)
	}

	for i, e := range versions {
		row := historyRow(e)
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write history row: %w", err)
		}
	}
	return f, nil
}

// ExportHistoryFile writes the history to a file in the export directory and
// returns its path. Format is "csv" or "xlsx".
func (s *Service) ExportHistoryFile(ctx context.Context, id uuid.UUID, format string) (string, error) {
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure export directory: %w", err)
	}

	name := fmt.Sprintf("history-%s-%d.%s", id, time.Now().Unix(), format)
	finalPath := filepath.Join(s.exportDir, name)

	switch format {
	case "csv":
		file, err := os.CreateTemp(s.exportDir, "history-*.csv")
		if err != nil {
			return "", fmt.Errorf("create temp export file: %w", err)
		}
		tempPath := file.Name()
		if err := s.WriteHistoryCSV(ctx, file, id); err != nil {
			file.Close()
			os.Remove(tempPath)
			return "", err
		}
		if err := file.Close(); err != nil {
			os.Remove(tempPath)
			return "", fmt.Errorf("close export file: %w", err)
		}
		if err := os.Rename(tempPath, finalPath); err != nil {
			os.Remove(tempPath)
			return "", fmt.Errorf("promote export file: %w", err)
		}
	case "xlsx":
		workbook, err := s.HistoryWorkbook(ctx, id)
		if err != nil {
			return "", err
		}
		defer workbook.Close()
		if err := workbook.SaveAs(finalPath); err != nil {
			return "", fmt.Errorf("save workbook: %w", err)
		}
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
	return finalPath, nil
}

func historyRow(e domain.Entity) []string {
	h := e.Header()
	deleted := "false"
	if h.Deleted {
		deleted = "true"
	}
	var added, updated, removed string
	if cd := h.ChangeDescription; cd != nil {
		added = fieldNames(cd.FieldsAdded)
		updated = fieldNames(cd.FieldsUpdated)
		removed = fieldNames(cd.FieldsDeleted)
	}
	return []string{
		domain.FormatVersion(h.Version),
		h.UpdatedAt.UTC().Format(time.RFC3339),
		h.UpdatedBy,
		deleted,
		added,
		updated,
		removed,
	}
}

func fieldNames(changes []domain.FieldChange) string {
	names := make([]string, len(changes))
	for i, fc := range changes {
		names[i] = fc.Name
	}
	return strings.Join(names, "; ")
}
