package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Sharif2023/StudyNest-sub001/internal/protocol"
)

// Occupancy is the payload sent to the meeting registry on join and leave.
type Occupancy struct {
	Event         string                 `json:"event"`
	RoomID        string                 `json:"roomId"`
	ParticipantID protocol.ParticipantID `json:"participantId"`
	Name          string                 `json:"name,omitempty"`
	Occupancy     int                    `json:"occupancy"`
}

// Notifier reports room occupancy changes to an external meeting registry.
// Calls are best effort; errors are logged by the hub and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, o Occupancy) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Occupancy) error { return nil }

// HTTPNotifier POSTs each Occupancy as JSON to URL.
type HTTPNotifier struct {
	URL    string
	Client *http.Client
}

// NewNotifier returns an HTTPNotifier for url, or a NopNotifier when url is empty.
func NewNotifier(url string) Notifier {
	if url == "" {
		return NopNotifier{}
	}
	return &HTTPNotifier{URL: url, Client: http.DefaultClient}
}

func (n *HTTPNotifier) Notify(ctx context.Context, o Occupancy) error {
	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode occupancy: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post occupancy: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("meeting registry returned %s", resp.Status)
	}
	return nil
}
