package hue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testBridge(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)
	address := strings.TrimPrefix(srv.URL, "https://")
	return NewClient(address, "test-app-key", time.Second)
}

func TestConnectSendsApplicationKey(t *testing.T) {
	var gotKey string
	c := testBridge(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("hue-application-key")
		w.Write([]byte(`{"data": []}`))
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if gotKey != "test-app-key" {
		t.Errorf("hue-application-key = %q, want %q", gotKey, "test-app-key")
	}
}

func TestConnectRejectedKey(t *testing.T) {
	c := testBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := c.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("Connect() = %v, want rejected-key error", err)
	}
}

func TestGetEntertainmentConfigurations(t *testing.T) {
	c := testBridge(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clip/v2/resource/entertainment_configuration" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"data": [
			{"id": "area-1", "metadata": {"name": "TV wall"}, "status": "inactive",
			 "channels": [{"channel_id": 0}, {"channel_id": 1}]}
		]}`))
	})

	areas, err := c.GetEntertainmentConfigurations(context.Background())
	if err != nil {
		t.Fatalf("GetEntertainmentConfigurations() error: %v", err)
	}
	if len(areas) != 1 {
		t.Fatalf("got %d areas, want 1", len(areas))
	}
	if areas[0].Metadata.Name != "TV wall" {
		t.Errorf("area name = %q, want %q", areas[0].Metadata.Name, "TV wall")
	}
	if len(areas[0].Channels) != 2 || areas[0].Channels[1].ChannelID != 1 {
		t.Errorf("channels = %+v, want ids 0 and 1", areas[0].Channels)
	}
}

func TestSetStreamingActive(t *testing.T) {
	tests := []struct {
		name       string
		active     bool
		wantAction string
	}{
		{"start", true, "start"},
		{"stop", false, "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotMethod, gotPath string
			var gotBody struct {
				Action string `json:"action"`
			}
			c := testBridge(t, func(w http.ResponseWriter, r *http.Request) {
				gotMethod = r.Method
				gotPath = r.URL.Path
				body, _ := io.ReadAll(r.Body)
				json.Unmarshal(body, &gotBody)
				w.Write([]byte(`{"data": []}`))
			})

			if err := c.SetStreamingActive(context.Background(), "area-1", tt.active); err != nil {
				t.Fatalf("SetStreamingActive() error: %v", err)
			}
			if gotMethod != http.MethodPut {
				t.Errorf("method = %q, want PUT", gotMethod)
			}
			if gotPath != "/clip/v2/resource/entertainment_configuration/area-1" {
				t.Errorf("path = %q", gotPath)
			}
			if gotBody.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", gotBody.Action, tt.wantAction)
			}
		})
	}
}

func TestGetEntertainmentConfigurationNotFound(t *testing.T) {
	c := testBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": []}`))
	})

	if _, err := c.GetEntertainmentConfiguration(context.Background(), "nope"); err == nil {
		t.Error("GetEntertainmentConfiguration() = nil error for unknown area")
	}
}
