package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"aoi/internal/config"
	"aoi/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventSessionComplete, notifications.Payload{"serial": "SN1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "session complete",
			event:         notifications.EventSessionComplete,
			payload:       notifications.Payload{"serial": "SN-001", "count": 8, "operator": "op2"},
			expectTitle:   "aoi - Session Complete",
			expectMessage: "✅ SN-001 complete: 8 images (operator op2)",
			expectTags:    "aoi,session,completed",
		},
		{
			name:           "session incomplete",
			event:          notifications.EventSessionIncomplete,
			payload:        notifications.Payload{"serial": "SN-001", "count": 7, "expected": 8},
			expectTitle:    "aoi - Session Incomplete",
			expectMessage:  "⚠️ SN-001 has 7 of 8 images",
			expectTags:     "aoi,session,incomplete",
			expectPriority: "high",
		},
		{
			name:           "write failed",
			event:          notifications.EventWriteFailed,
			payload:        notifications.Payload{"file": "Step1_2_op.jpg", "error": "disk full"},
			expectTitle:    "aoi - Write Failed",
			expectMessage:  "❌ Could not save Step1_2_op.jpg: disk full",
			expectTags:     "aoi,disk,error",
			expectPriority: "high",
		},
		{
			name:           "error",
			event:          notifications.EventError,
			payload:        notifications.Payload{"context": "listener", "error": "address in use"},
			expectTitle:    "aoi - Error",
			expectMessage:  "❌ Error with listener: address in use",
			expectTags:     "aoi,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceIgnoresDisabledEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for suppressed event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.SessionComplete = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{
		notifications.EventSessionComplete,
		notifications.EventWriteFailed,
		notifications.EventError,
		notifications.Event("unknown"),
	} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"serial": "x"}); err != nil {
			t.Fatalf("expected no error for suppressed event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
