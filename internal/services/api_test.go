package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
	melostest "github.com/melos-app/melos/internal/testing"
)

func newTestClient(rt http.RoundTripper) *Client {
	return NewClient(ClientOpts{
		BaseURL:           "http://sync.test",
		ClientType:        "melos-test",
		RequestsPerSecond: 1000,
		HTTPClient:        &http.Client{Transport: rt},
	})
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestClientSyncState(t *testing.T) {
	body := `{
		"seq": 41,
		"likes": {"albums": ["al-1"], "artists": [], "tracks": ["t-1", "t-2"]},
		"settings": [{"key": "quality", "value": "high"}],
		"playlists": [{"id": "pl-1", "name": "Focus", "tracks": ["t-1"]}],
		"permissions": ["stream", "download"]
	}`
	client := newTestClient(melostest.NewMockRoundTripper(jsonResponse(200, body), nil))

	state, err := client.SyncState(context.Background())
	if err != nil {
		t.Fatalf("SyncState returned error: %v", err)
	}

	if state.Seq != 41 {
		t.Errorf("seq = %d, want 41", state.Seq)
	}
	if len(state.Likes.Tracks) != 2 || state.Likes.Tracks[1] != "t-2" {
		t.Errorf("unexpected liked tracks: %v", state.Likes.Tracks)
	}
	if len(state.Playlists) != 1 || state.Playlists[0].Name != "Focus" {
		t.Errorf("unexpected playlists: %v", state.Playlists)
	}
	if len(state.Permissions) != 2 {
		t.Errorf("unexpected permissions: %v", state.Permissions)
	}
}

func TestClientSyncEvents(t *testing.T) {
	t.Run("returns batch", func(t *testing.T) {
		body := `{
			"events": [
				{"seq": 6, "type": "content_liked", "payload": {"content_type": "track", "content_id": "t-9"}},
				{"seq": 7, "type": "playlist_deleted", "payload": {"id": "pl-3"}}
			],
			"current_seq": 7
		}`
		var captured *http.Request
		rt := melostest.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			captured = req
			return jsonResponse(200, body), nil
		})
		client := newTestClient(rt)

		batch, err := client.SyncEvents(context.Background(), 5)
		if err != nil {
			t.Fatalf("SyncEvents returned error: %v", err)
		}

		if captured.URL.Query().Get("since") != "5" {
			t.Errorf("expected since=5 in query, got %q", captured.URL.RawQuery)
		}
		if len(batch.Events) != 2 || batch.CurrentSeq != 7 {
			t.Errorf("unexpected batch: %+v", batch)
		}

		ev := models.DecodeEvent(batch.Events[0])
		liked, ok := ev.(models.ContentLiked)
		if !ok || liked.ContentID != "t-9" {
			t.Errorf("unexpected first event: %#v", ev)
		}
	})

	t.Run("410 maps to ErrEventsPruned", func(t *testing.T) {
		client := newTestClient(melostest.NewMockRoundTripper(jsonResponse(410, `{}`), nil))

		_, err := client.SyncEvents(context.Background(), 5)
		if !errors.Is(err, shared.ErrEventsPruned) {
			t.Errorf("expected ErrEventsPruned, got %v", err)
		}
	})
}

func TestClientPostListening(t *testing.T) {
	var captured map[string]any
	rt := melostest.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		return jsonResponse(200, `{"id": "le-1", "created": true}`), nil
	})
	client := newTestClient(rt)

	started := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	ended := started.Add(95 * time.Second)
	receipt, err := client.PostListening(context.Background(), &models.ListeningEvent{
		SessionID:            "sess-1",
		TrackID:              "t-1",
		StartedAt:            started,
		EndedAt:              &ended,
		DurationSeconds:      95,
		TrackDurationSeconds: 210,
		SeekCount:            2,
		PauseCount:           1,
		PlaybackContext:      "album:al-1",
	})
	if err != nil {
		t.Fatalf("PostListening returned error: %v", err)
	}

	if receipt.ID != "le-1" || !receipt.Created {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if captured["session_id"] != "sess-1" {
		t.Errorf("expected session_id in body, got %v", captured["session_id"])
	}
	if captured["client_type"] != "melos-test" {
		t.Errorf("expected client_type to be attached, got %v", captured["client_type"])
	}
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		response *http.Response
		err      error
		want     error
	}{
		{name: "transport failure", err: errors.New("connection refused"), want: shared.ErrNetwork},
		{name: "unauthorized", response: jsonResponse(401, `{}`), want: shared.ErrUnauthorized},
		{name: "not found", response: jsonResponse(404, `{}`), want: shared.ErrNotFound},
		{name: "gone", response: jsonResponse(410, `{}`), want: shared.ErrEventsPruned},
		{name: "bad request", response: jsonResponse(400, `{}`), want: shared.ErrClient},
		{name: "server error is transient", response: jsonResponse(503, `{}`), want: shared.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(melostest.NewMockRoundTripper(tt.response, tt.err))

			err := client.LikeContent(context.Background(), "track", "t-1")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClientPutSettings(t *testing.T) {
	var captured struct {
		Settings []map[string]string `json:"settings"`
	}
	rt := melostest.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", req.Method)
		}
		if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		return jsonResponse(200, `{}`), nil
	})
	client := newTestClient(rt)

	err := client.PutSettings(context.Background(), []models.UserSetting{
		{Key: "quality", Value: "high"},
		{Key: "normalize", Value: "true"},
	})
	if err != nil {
		t.Fatalf("PutSettings returned error: %v", err)
	}

	if len(captured.Settings) != 2 || captured.Settings[0]["key"] != "quality" {
		t.Errorf("unexpected settings body: %v", captured.Settings)
	}
}
