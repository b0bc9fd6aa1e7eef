package formatter

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/melos-app/melos/internal/models"
	th "github.com/melos-app/melos/internal/testing"
)

func sampleExport() *HistoryExport {
	started := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	ended := started.Add(200 * time.Second)
	return &HistoryExport{
		ExportedAt: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
		Events: []models.ListeningEvent{
			{
				SessionID:       "sess-1",
				TrackID:         "track1",
				StartedAt:       started,
				EndedAt:         &ended,
				DurationSeconds: 200,
				SeekCount:       1,
				PauseCount:      2,
				PlaybackContext: "album:al-1",
				SyncStatus:      models.StatusPendingSync,
			},
			{
				SessionID:       "sess-2",
				TrackID:         "track2",
				StartedAt:       started.Add(time.Hour),
				DurationSeconds: 45,
				SyncStatus:      models.StatusSyncError,
			},
		},
	}
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(sampleExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "SessionID,TrackID,StartedAt,EndedAt,Duration,Seeks,Pauses,Context,Status") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "sess-1") || !strings.Contains(output, "track1") {
			t.Errorf("CSV missing first session")
		}
		if !strings.Contains(output, "album:al-1") {
			t.Errorf("CSV missing playback context")
		}
		if !strings.Contains(output, "sync_error") {
			t.Errorf("CSV missing sync status")
		}

		// A session without ended_at leaves the column empty.
		lines := strings.Split(strings.TrimSpace(output), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header + 2 records, got %d lines", len(lines))
		}
		if !strings.Contains(lines[2], ",,") {
			t.Errorf("open session should have empty EndedAt: %s", lines[2])
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(sampleExport())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "# Listening History") {
			t.Errorf("Markdown missing title")
		}
		if !strings.Contains(output, "**Sessions**: 2") {
			t.Errorf("Markdown missing session count")
		}
		if !strings.Contains(output, "## Sessions") {
			t.Errorf("Markdown missing sessions section")
		}
		if !strings.Contains(output, "1. track1 (album:al-1) [3:20]") {
			t.Errorf("Markdown missing first session, got: %s", output)
		}
		if !strings.Contains(output, "2. track2 [0:45]") {
			t.Errorf("Markdown missing second session (no context)")
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(sampleExport())
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		output := string(data)
		if !strings.Contains(output, `"sess-1"`) || !strings.Contains(output, `"track2"`) {
			t.Errorf("JSON missing session data: %s", output)
		}
	})
}

func TestWriters(t *testing.T) {
	t.Run("WriteCSVExport", func(t *testing.T) {
		t.Run("WithDefaultPath", func(t *testing.T) {
			got, err := WriteCSVExport(sampleExport(), filepath.Join(t.TempDir(), "listening_history.csv"))
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}

			th.AssertFileExists(t, got)
			content := th.MustReadFile(t, got)
			if !strings.Contains(content, "sess-1") {
				t.Errorf("CSV file missing session data")
			}
		})

		t.Run("WithCustomPath", func(t *testing.T) {
			custom := filepath.Join(t.TempDir(), "history.csv")
			got, err := WriteCSVExport(sampleExport(), custom)
			if err != nil {
				t.Fatalf("WriteCSVExport failed: %v", err)
			}
			if got != custom {
				t.Errorf("expected %s, got %s", custom, got)
			}
			th.AssertFileExists(t, got)
		})
	})

	t.Run("WriteMarkdownExport", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "history.md")
		got, err := WriteMarkdownExport(sampleExport(), path)
		if err != nil {
			t.Fatalf("WriteMarkdownExport failed: %v", err)
		}

		th.AssertFileExists(t, got)
		content := th.MustReadFile(t, got)
		if !strings.Contains(content, "# Listening History") {
			t.Errorf("Markdown file missing title")
		}
	})

	t.Run("WriteJSONExport", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "history.json")
		got, err := WriteJSONExport(sampleExport(), path)
		if err != nil {
			t.Fatalf("WriteJSONExport failed: %v", err)
		}

		th.AssertFileExists(t, got)
		content := th.MustReadFile(t, got)
		if !strings.Contains(content, `"sess-2"`) {
			t.Errorf("JSON file missing session data")
		}
	})
}
