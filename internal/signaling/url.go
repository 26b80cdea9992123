package signaling

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/atrium/callkit/internal/domain"
)

// URLParams carries everything the coordination server needs to route the
// websocket to the right room.
type URLParams struct {
	ServerURL        string
	RoomID           domain.CallID
	PeerID           domain.PeerID
	ConsumerReplicas int
	CallKind         domain.CallKind
	CallCreator      domain.PeerID
}

// BuildURL produces the signaling websocket URL for one session.
func BuildURL(p URLParams) (string, error) {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "wss", "ws":
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	q := u.Query()
	q.Set("roomId", string(p.RoomID))
	q.Set("peerId", string(p.PeerID))
	q.Set("consumerReplicas", strconv.Itoa(p.ConsumerReplicas))
	q.Set("callType", string(p.CallKind))
	q.Set("callCreator", string(p.CallCreator))
	u.RawQuery = q.Encode()

	return u.String(), nil
}
