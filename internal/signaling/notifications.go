package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atrium/callkit/internal/domain"
)

// ErrUnknownNotification marks methods this client does not understand.
// Callers log it and move on; protocol drift must never crash a session.
var ErrUnknownNotification = errors.New("unknown notification method")

// PeerInfo is the wire shape of a remote participant inside join responses
// and newPeer notifications.
type PeerInfo struct {
	ID          domain.PeerID     `json:"id"`
	DisplayName string            `json:"displayName"`
	Device      domain.DeviceInfo `json:"device"`
}

// Notification is the closed set of server push messages. Decoding produces
// exactly one concrete variant; the session client switches over them
// exhaustively.
type Notification interface{ isNotification() }

type (
	ProducerScore struct {
		ProducerID string `json:"producerId"`
		Score      int    `json:"score"`
	}

	NewPeer struct {
		Peer PeerInfo
	}

	PeerClosed struct {
		PeerID domain.PeerID `json:"peerId"`
	}

	// DownlinkBwe carries bandwidth-estimation diagnostics; logged only.
	DownlinkBwe struct {
		Data json.RawMessage
	}

	ConsumerClosed struct {
		ConsumerID string `json:"consumerId"`
	}

	ConsumerPaused struct {
		ConsumerID string `json:"consumerId"`
	}

	ConsumerResumed struct {
		ConsumerID string `json:"consumerId"`
	}

	ConsumerLayersChanged struct {
		ConsumerID    string `json:"consumerId"`
		SpatialLayer  int    `json:"spatialLayer"`
		TemporalLayer int    `json:"temporalLayer"`
	}

	ConsumerScore struct {
		ConsumerID string `json:"consumerId"`
		Score      int    `json:"score"`
	}

	ActiveSpeaker struct {
		PeerID domain.PeerID `json:"peerId"`
		Volume int           `json:"volume"`
	}

	DominantSpeaker struct {
		PeerID domain.PeerID `json:"peerId"`
	}

	HandRaised struct {
		PeerID domain.PeerID `json:"peerId"`
	}

	HandLowered struct {
		PeerID domain.PeerID `json:"peerId"`
	}

	BroadcasterPromoted struct {
		PeerID domain.PeerID `json:"peerId"`
	}

	BroadcasterDemoted struct {
		PeerID domain.PeerID `json:"peerId"`
	}

	CallEnded struct{}

	ModerationMuted struct{}

	ReactionReceived struct {
		PeerID   domain.PeerID `json:"peerId"`
		Reaction string        `json:"reaction"`
	}

	CallUpdated struct {
		Slots       int  `json:"slots"`
		StageSlots  int  `json:"stageSlots"`
		AudioOnly   bool `json:"audioOnly"`
		HighQuality bool `json:"highQuality"`
	}
)

func (ProducerScore) isNotification()         {}
func (NewPeer) isNotification()               {}
func (PeerClosed) isNotification()            {}
func (DownlinkBwe) isNotification()           {}
func (ConsumerClosed) isNotification()        {}
func (ConsumerPaused) isNotification()        {}
func (ConsumerResumed) isNotification()       {}
func (ConsumerLayersChanged) isNotification() {}
func (ConsumerScore) isNotification()         {}
func (ActiveSpeaker) isNotification()         {}
func (DominantSpeaker) isNotification()       {}
func (HandRaised) isNotification()            {}
func (HandLowered) isNotification()           {}
func (BroadcasterPromoted) isNotification()   {}
func (BroadcasterDemoted) isNotification()    {}
func (CallEnded) isNotification()             {}
func (ModerationMuted) isNotification()       {}
func (ReactionReceived) isNotification()      {}
func (CallUpdated) isNotification()           {}

// decodeNotification maps a wire method to its typed variant.
func decodeNotification(method string, data json.RawMessage) (Notification, error) {
	unmarshal := func(v Notification) (Notification, error) {
		if len(data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %q: %w", method, err)
		}
		return v, nil
	}

	switch method {
	case "producerScore":
		return unmarshal(&ProducerScore{})
	case "newPeer":
		n := &NewPeer{}
		if err := json.Unmarshal(data, &n.Peer); err != nil {
			return nil, fmt.Errorf("decode %q: %w", method, err)
		}
		return n, nil
	case "peerClosed":
		return unmarshal(&PeerClosed{})
	case "downlinkBwe":
		return &DownlinkBwe{Data: data}, nil
	case "consumerClosed":
		return unmarshal(&ConsumerClosed{})
	case "consumerPaused":
		return unmarshal(&ConsumerPaused{})
	case "consumerResumed":
		return unmarshal(&ConsumerResumed{})
	case "consumerLayersChanged":
		return unmarshal(&ConsumerLayersChanged{})
	case "consumerScore":
		return unmarshal(&ConsumerScore{})
	case "activeSpeaker":
		return unmarshal(&ActiveSpeaker{})
	case "dominantSpeaker":
		return unmarshal(&DominantSpeaker{})
	case "raisedHand":
		return unmarshal(&HandRaised{})
	case "loweredHand":
		return unmarshal(&HandLowered{})
	case "promotedBroadcaster":
		return unmarshal(&BroadcasterPromoted{})
	case "demotedBroadcaster":
		return unmarshal(&BroadcasterDemoted{})
	case "callEnded":
		return &CallEnded{}, nil
	case "moderationMuted":
		return &ModerationMuted{}, nil
	case "reactionReceived":
		return unmarshal(&ReactionReceived{})
	case "callUpdate":
		return unmarshal(&CallUpdated{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNotification, method)
	}
}
