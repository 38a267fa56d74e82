package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"usageprep/internal/preprocess"
)

const DefaultSocketPath = "/tmp/usageprep.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Command Argument Structs ---

// ProcessFileArgs queues a raw export for processing.
type ProcessFileArgs struct {
	Path string `json:"path"`
}

// --- Command Names ---

const (
	CmdPing    = "ping"
	CmdStatus  = "status"
	CmdProcess = "process"
)

// --- Status Response Data ---

type StatusData struct {
	RawDataFolder string              `json:"raw_data_folder"`
	StartedAt     time.Time           `json:"started_at"`
	Queued        int                 `json:"queued"`
	Stats         preprocess.Snapshot `json:"stats"`
}

// Send delivers one command and waits for the reply.
func Send(socketPath string, cmd Command, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return Response{}, fmt.Errorf("failed to connect to daemon socket %s: %w", socketPath, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return Response{}, fmt.Errorf("failed to send command: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("failed to receive response: %w", err)
	}
	return resp, nil
}

// DecodeData re-decodes the generic Data field into out.
func DecodeData(data interface{}, out interface{}) error {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}
