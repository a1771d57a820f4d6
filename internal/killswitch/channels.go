// Package killswitch implements the kill-switch live-test protocol: a
// signed TEST command is sent over each declared channel and the channel
// passes when the agent acknowledges the matching test id within the
// timeout. Latency statistics feed the SILVER+ certification check.
package killswitch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ChannelType enumerates the supported kill-switch delivery channels.
type ChannelType string

const (
	SSE       ChannelType = "SSE"
	WebSocket ChannelType = "WEBSOCKET"
	Polling   ChannelType = "POLLING"
	LocalFile ChannelType = "LOCAL_FILE"
)

// TestCommand is the signed command delivered during a live test.
type TestCommand struct {
	Type      string `json:"type"` // always "TEST"
	TestID    string `json:"test_id"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
}

// Ack is the agent's acknowledgement of a test command.
type Ack struct {
	TestID     string `json:"test_id"`
	ReceivedAt string `json:"received_at,omitempty"`
}

// Channel delivers a test command and waits for the acknowledgement.
// Implementations must honour ctx cancellation.
type Channel interface {
	Type() ChannelType
	Deliver(ctx context.Context, cmd TestCommand) (*Ack, error)
}

// ─── POLLING ─────────────────────────────────────────────────────────────────

// PollingChannel POSTs the command to the agent's kill-switch endpoint;
// the agent acknowledges synchronously in the response body.
type PollingChannel struct {
	Endpoint string
	Client   *http.Client
}

// Type implements Channel.
func (p *PollingChannel) Type() ChannelType { return Polling }

// Deliver implements Channel.
func (p *PollingChannel) Deliver(ctx context.Context, cmd TestCommand) (*Ack, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode test command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build kill-switch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deliver test command: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kill-switch endpoint returned %d", resp.StatusCode)
	}

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("parse acknowledgement: %w", err)
	}
	return &ack, nil
}

// ─── WEBSOCKET ───────────────────────────────────────────────────────────────

// WebSocketChannel dials the agent, writes the command, and reads frames
// until the matching acknowledgement arrives.
type WebSocketChannel struct {
	Endpoint string
	Dialer   *websocket.Dialer
}

// Type implements Channel.
func (w *WebSocketChannel) Type() ChannelType { return WebSocket }

// Deliver implements Channel.
func (w *WebSocketChannel) Deliver(ctx context.Context, cmd TestCommand) (*Ack, error) {
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, w.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial kill-switch websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck
	}
	defer conn.Close() //nolint:errcheck

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	if err := conn.WriteJSON(cmd); err != nil {
		return nil, fmt.Errorf("write test command: %w", err)
	}

	// Read frames until the ack for this test id; the agent may emit
	// unrelated frames first.
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ack Ack
		if err := conn.ReadJSON(&ack); err != nil {
			return nil, fmt.Errorf("read acknowledgement: %w", err)
		}
		if ack.TestID == cmd.TestID {
			return &ack, nil
		}
	}
}

// ─── SSE ─────────────────────────────────────────────────────────────────────

// SSEChannel POSTs the command, then consumes the agent's event stream
// until the matching acknowledgement event arrives.
type SSEChannel struct {
	// CommandEndpoint receives the POSTed test command.
	CommandEndpoint string
	// StreamEndpoint serves text/event-stream acknowledgement events.
	StreamEndpoint string
	Client         *http.Client
}

// Type implements Channel.
func (s *SSEChannel) Type() ChannelType { return SSE }

// Deliver implements Channel.
func (s *SSEChannel) Deliver(ctx context.Context, cmd TestCommand) (*Ack, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	// Open the stream first so the ack cannot race past us.
	streamReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.StreamEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	streamReq.Header.Set("Accept", "text/event-stream")
	stream, err := client.Do(streamReq)
	if err != nil {
		return nil, fmt.Errorf("open acknowledgement stream: %w", err)
	}
	defer stream.Body.Close() //nolint:errcheck

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode test command: %w", err)
	}
	cmdReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.CommandEndpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build command request: %w", err)
	}
	cmdReq.Header.Set("Content-Type", "application/json")
	cmdResp, err := client.Do(cmdReq)
	if err != nil {
		return nil, fmt.Errorf("deliver test command: %w", err)
	}
	cmdResp.Body.Close() //nolint:errcheck

	scanner := bufio.NewScanner(stream.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ack Ack
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ack); err != nil {
			continue
		}
		if ack.TestID == cmd.TestID {
			return &ack, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read acknowledgement stream: %w", err)
	}
	return nil, fmt.Errorf("acknowledgement stream closed without ack for %s", cmd.TestID)
}

// ─── LOCAL_FILE ──────────────────────────────────────────────────────────────

// ackPollInterval is how often the file channel looks for the ack file.
const ackPollInterval = 50 * time.Millisecond

// LocalFileChannel drops the command as a file in a shared directory and
// polls for the matching acknowledgement file. Used for co-located
// agents without a network listener.
type LocalFileChannel struct {
	Dir string
}

// Type implements Channel.
func (l *LocalFileChannel) Type() ChannelType { return LocalFile }

// Deliver implements Channel.
func (l *LocalFileChannel) Deliver(ctx context.Context, cmd TestCommand) (*Ack, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode test command: %w", err)
	}
	cmdPath := filepath.Join(l.Dir, "killswitch_test_"+cmd.TestID+".json")
	if err := os.WriteFile(cmdPath, body, 0o644); err != nil {
		return nil, fmt.Errorf("write test command file: %w", err)
	}

	ackPath := filepath.Join(l.Dir, "killswitch_ack_"+cmd.TestID+".json")
	ticker := time.NewTicker(ackPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			raw, err := os.ReadFile(ackPath)
			if err != nil {
				continue
			}
			var ack Ack
			if err := json.Unmarshal(raw, &ack); err != nil {
				continue
			}
			if ack.TestID == cmd.TestID {
				return &ack, nil
			}
		}
	}
}
