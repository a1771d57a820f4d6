package killswitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func ackHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd TestCommand
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			t.Errorf("decode command: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if cmd.Type != "TEST" || cmd.TestID == "" {
			t.Errorf("unexpected command: %+v", cmd)
		}
		json.NewEncoder(w).Encode(Ack{ //nolint:errcheck
			TestID:     cmd.TestID,
			ReceivedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func TestPollingChannelDeliver(t *testing.T) {
	srv := httptest.NewServer(ackHandler(t))
	defer srv.Close()

	ch := &PollingChannel{Endpoint: srv.URL}
	cmd := TestCommand{Type: "TEST", TestID: "test-123", Timestamp: time.Now().UTC().Format(time.RFC3339)}
	ack, err := ch.Deliver(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ack.TestID != "test-123" {
		t.Errorf("ack test id = %q", ack.TestID)
	}
}

func TestPollingChannelNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch := &PollingChannel{Endpoint: srv.URL}
	if _, err := ch.Deliver(context.Background(), TestCommand{Type: "TEST", TestID: "x"}); err == nil {
		t.Fatal("non-200 response did not error")
	}
}

func TestSSEChannelDeliver(t *testing.T) {
	var mu = make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/command", func(w http.ResponseWriter, r *http.Request) {
		var cmd TestCommand
		json.NewDecoder(r.Body).Decode(&cmd) //nolint:errcheck
		mu <- cmd.TestID
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		// An unrelated event first; the channel must skip it.
		w.Write([]byte("data: {\"test_id\":\"other\"}\n\n")) //nolint:errcheck
		flusher.Flush()
		id := <-mu
		w.Write([]byte("data: {\"test_id\":\"" + id + "\"}\n\n")) //nolint:errcheck
		flusher.Flush()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ch := &SSEChannel{CommandEndpoint: srv.URL + "/command", StreamEndpoint: srv.URL + "/stream"}
	ack, err := ch.Deliver(context.Background(), TestCommand{Type: "TEST", TestID: "sse-1"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ack.TestID != "sse-1" {
		t.Errorf("ack test id = %q", ack.TestID)
	}
}

func TestLocalFileChannelDeliver(t *testing.T) {
	dir := t.TempDir()
	ch := &LocalFileChannel{Dir: dir}
	cmd := TestCommand{Type: "TEST", TestID: "file-1"}

	// Co-located agent: watch for the command file, drop the ack.
	go func() {
		cmdPath := filepath.Join(dir, "killswitch_test_file-1.json")
		for i := 0; i < 100; i++ {
			if _, err := os.Stat(cmdPath); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		ack, _ := json.Marshal(Ack{TestID: "file-1"})
		os.WriteFile(filepath.Join(dir, "killswitch_ack_file-1.json"), ack, 0o644) //nolint:errcheck
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ack, err := ch.Deliver(ctx, cmd)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ack.TestID != "file-1" {
		t.Errorf("ack test id = %q", ack.TestID)
	}
}

func TestLocalFileChannelTimesOutWithoutAck(t *testing.T) {
	ch := &LocalFileChannel{Dir: t.TempDir()}
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := ch.Deliver(ctx, TestCommand{Type: "TEST", TestID: "never"}); err == nil {
		t.Fatal("unacknowledged delivery did not error")
	}
}
