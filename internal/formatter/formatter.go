// package formatter exports listening-history records to various formats (CSV, Markdown, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
)

// HistoryExport is a listening-history snapshot prepared for export.
type HistoryExport struct {
	ExportedAt time.Time
	Events     []models.ListeningEvent
}

// ExportToCSV converts a HistoryExport to CSV format with columns:
// SessionID, TrackID, StartedAt, EndedAt, Duration, Seeks, Pauses, Context, Status
func ExportToCSV(export *HistoryExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"SessionID", "TrackID", "StartedAt", "EndedAt", "Duration", "Seeks", "Pauses", "Context", "Status"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, ev := range export.Events {
		endedAt := ""
		if ev.EndedAt != nil {
			endedAt = ev.EndedAt.Format(time.RFC3339)
		}
		record := []string{
			ev.SessionID,
			ev.TrackID,
			ev.StartedAt.Format(time.RFC3339),
			endedAt,
			strconv.Itoa(ev.DurationSeconds),
			strconv.Itoa(ev.SeekCount),
			strconv.Itoa(ev.PauseCount),
			ev.PlaybackContext,
			string(ev.SyncStatus),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a HistoryExport to Markdown format
func ExportToMarkdown(export *HistoryExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Listening History\n\n")
	buf.WriteString(fmt.Sprintf("**Exported**: %s\n", export.ExportedAt.Format(time.RFC3339)))
	buf.WriteString(fmt.Sprintf("**Sessions**: %d\n\n", len(export.Events)))

	buf.WriteString("## Sessions\n\n")
	for i, ev := range export.Events {
		duration := shared.FormatDuration(ev.DurationSeconds)
		contextPart := ""
		if ev.PlaybackContext != "" {
			contextPart = fmt.Sprintf(" (%s)", ev.PlaybackContext)
		}
		buf.WriteString(fmt.Sprintf("%d. %s%s [%s] %s\n", i+1, ev.TrackID, contextPart, duration, ev.StartedAt.Format("2006-01-02 15:04")))
	}

	return buf.Bytes(), nil
}

// ExportToJSON converts a HistoryExport to indented JSON
func ExportToJSON(export *HistoryExport) ([]byte, error) {
	data, err := json.MarshalIndent(export.Events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to generate JSON: %w", err)
	}
	return data, nil
}

// WriteCSVExport writes a listening-history CSV file.
//
// Defaults to listening_history.csv as the filename.
func WriteCSVExport(export *HistoryExport, filepath string) (string, error) {
	if filepath == "" {
		filepath = "listening_history.csv"
	}

	csvData, err := ExportToCSV(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate CSV: %w", err)
	}

	if err := os.WriteFile(filepath, csvData, 0644); err != nil {
		return "", fmt.Errorf("failed to write CSV file: %w", err)
	}

	return filepath, nil
}

// WriteMarkdownExport writes a listening-history Markdown file.
//
// Defaults to listening_history.md as the filename.
func WriteMarkdownExport(export *HistoryExport, filepath string) (string, error) {
	if filepath == "" {
		filepath = "listening_history.md"
	}

	mdData, err := ExportToMarkdown(export)
	if err != nil {
		return "", fmt.Errorf("failed to generate Markdown: %w", err)
	}

	if err := os.WriteFile(filepath, mdData, 0644); err != nil {
		return "", fmt.Errorf("failed to write Markdown file: %w", err)
	}

	return filepath, nil
}

// WriteJSONExport writes a listening-history JSON file.
//
// Defaults to listening_history.json as the filename.
func WriteJSONExport(export *HistoryExport, filepath string) (string, error) {
	if filepath == "" {
		filepath = "listening_history.json"
	}

	jsonData, err := ExportToJSON(export)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filepath, jsonData, 0644); err != nil {
		return "", fmt.Errorf("failed to write JSON file: %w", err)
	}

	return filepath, nil
}
