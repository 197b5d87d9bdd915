package tv

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

// testClient points a v1 client at the given test server.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return NewClient(Config{
		Host:          u.Hostname(),
		Port:          port,
		APIVersion:    1,
		SampleTimeout: time.Second,
	})
}

func TestClientSample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/ambilight/processed" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"layer1": {
				"left":  {"0": {"r": 255, "g": 0, "b": 0}},
				"top":   {"0": {"r": 0, "g": 255, "b": 0}},
				"right": {"0": {"r": 0, "g": 0, "b": 255}}
			}
		}`))
	}))
	defer srv.Close()

	frame, err := testClient(t, srv).Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error: %v", err)
	}
	if frame.Zones() != 3 {
		t.Fatalf("Zones() = %d, want 3", frame.Zones())
	}
	if frame[0].R != 255 || frame[1].G != 255 || frame[2].B != 255 {
		t.Errorf("frame = %v, want red green blue", frame)
	}
}

func TestClientSampleGarbageBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Internal server error"))
	}))
	defer srv.Close()

	_, err := testClient(t, srv).Sample(context.Background())
	if err == nil {
		t.Fatal("Sample() = nil error for garbage body")
	}
	if IsUnreachable(err) {
		t.Error("decode failure classified as unreachable")
	}
}

func TestClientSampleTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := testClient(t, srv)
	client.sampleTimeout = 20 * time.Millisecond

	_, err := client.Sample(context.Background())
	if err == nil {
		t.Fatal("Sample() = nil error for stalled server")
	}
	// A slow TV is transient, not gone.
	if IsUnreachable(err) {
		t.Error("timeout classified as unreachable")
	}
}

func TestClientSampleConnectionRefused(t *testing.T) {
	// Grab a free port and close the listener so the connection is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	client := NewClient(Config{
		Host:          "127.0.0.1",
		Port:          port,
		APIVersion:    1,
		SampleTimeout: time.Second,
	})

	_, err = client.Sample(context.Background())
	if err == nil {
		t.Fatal("Sample() = nil error for refused connection")
	}
	if !IsUnreachable(err) {
		t.Errorf("refused connection not classified as unreachable: %v", err)
	}
}

func TestClientPowerState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/powerstate" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"powerstate": "Standby"}`))
	}))
	defer srv.Close()

	ps, err := testClient(t, srv).PowerState(context.Background())
	if err != nil {
		t.Fatalf("PowerState() error: %v", err)
	}
	if ps != "Standby" {
		t.Errorf("PowerState() = %q, want %q", ps, "Standby")
	}
}
