package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestHandler(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	f := newServiceFixture(t)
	h := NewHandler(f.svc, quietLogger(), nil)
	r := chi.NewRouter()
	h.Routes(r)
	return h, r
}

func decodeRecording(t *testing.T, rec *httptest.ResponseRecorder) Recording {
	t.Helper()
	var out Recording
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func startViaAPI(t *testing.T, r http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/recordings", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_StartRecording(t *testing.T) {
	_, r := newTestHandler(t)

	rec := startViaAPI(t, r, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	got := decodeRecording(t, rec)
	if got.ID == "" || got.Status != RecordingActive {
		t.Errorf("unexpected recording %+v", got)
	}
}

func TestHandler_StartRecording_bad_request(t *testing.T) {
	_, r := newTestHandler(t)

	for _, body := range []string{"not json", `{"format":"avi"}`, `{"adjustment":"both"}`} {
		if rec := startViaAPI(t, r, body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandler_StartRecording_display_not_found(t *testing.T) {
	_, r := newTestHandler(t)

	rec := startViaAPI(t, r, `{"display":":3.0"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if got := decodeRecording(t, rec); got.Status != RecordingFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestHandler_GetRecording(t *testing.T) {
	_, r := newTestHandler(t)
	created := decodeRecording(t, startViaAPI(t, r, ""))

	req := httptest.NewRequest(http.MethodGet, "/recordings/"+string(created.ID), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeRecording(t, rec); got.ID != created.ID {
		t.Errorf("got id %s, want %s", got.ID, created.ID)
	}
}

func TestHandler_GetRecording_not_found(t *testing.T) {
	_, r := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/recordings/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_ListRecordings(t *testing.T) {
	_, r := newTestHandler(t)
	startViaAPI(t, r, "")
	startViaAPI(t, r, "")

	req := httptest.NewRequest(http.MethodGet, "/recordings", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var list []Recording
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || len(list) != 2 {
		t.Errorf("status %d, %d recordings", rec.Code, len(list))
	}
}

func TestHandler_ApplyAction(t *testing.T) {
	_, r := newTestHandler(t)
	created := decodeRecording(t, startViaAPI(t, r, ""))

	tests := []struct {
		name   string
		path   string
		want   int
		status RecordingStatus
	}{
		{"unknown_action", "/recordings/" + string(created.ID) + "/rewind", http.StatusBadRequest, ""},
		{"missing_recording", "/recordings/missing/stop", http.StatusNotFound, ""},
		{"pause", "/recordings/" + string(created.ID) + "/pause", http.StatusOK, RecordingPaused},
		{"stop", "/recordings/" + string(created.ID) + "/stop", http.StatusOK, RecordingStopped},
		{"delete", "/recordings/" + string(created.ID) + "/delete", http.StatusOK, RecordingDeleted},
		{"after_delete", "/recordings/" + string(created.ID) + "/start", http.StatusConflict, RecordingDeleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.status != "" {
				if got := decodeRecording(t, rec); got.Status != tt.status {
					t.Errorf("status = %s, want %s", got.Status, tt.status)
				}
			}
		})
	}
}

func TestHandler_routes_with_service_closed(t *testing.T) {
	h, r := newTestHandler(t)
	created := decodeRecording(t, startViaAPI(t, r, ""))
	h.svc.Close(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/recordings/"+string(created.ID)+"/stop", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 once sessions are released, got %d", rec.Code)
	}
}
