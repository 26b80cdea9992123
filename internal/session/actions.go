package session

import (
	"time"

	"github.com/atrium/callkit/internal/domain"
)

// Action is the closed set of state transitions. The reducer handles every
// variant; an unknown one is a programming error.
type Action interface{ isAction() }

type InitializeCall struct {
	Call        *domain.Call
	Me          Peer
	StartTime   time.Time
	Muted       bool
	AudioOnly   bool
	HighQuality bool
	CallSlots   int
	StageSlots  int
}

type InitializeBroadcast struct {
	Peers        []Peer
	Broadcasters []domain.PeerID
	RaisedHands  []domain.PeerID
}

// AddPeers merges peers into the roster. Seed marks the snapshot delivered
// with the join response, as opposed to a peer arriving mid-call.
type AddPeers struct {
	Peers []Peer
	Seed  bool
}

type RemovePeer struct{ PeerID domain.PeerID }

type ExitCall struct{}

type SetRoomState struct{ State RoomState }

type AddConsumer struct {
	Consumer Consumer
	PeerID   domain.PeerID
}

type RemoveConsumer struct {
	ConsumerID string
	PeerID     domain.PeerID
}

type SetConsumerPaused struct {
	ConsumerID string
	Origin     Origin
}

type SetConsumerResumed struct {
	ConsumerID string
	Origin     Origin
}

type SetConsumerCurrentLayers struct {
	ConsumerID string
	Spatial    int
	Temporal   int
}

type SetConsumerPreferredLayers struct {
	ConsumerID string
	Spatial    int
	Temporal   int
}

type SetConsumerScore struct {
	ConsumerID string
	Score      int
}

type SetConsumerPriority struct {
	ConsumerID string
	Priority   int
}

type AddProducer struct{ Producer Producer }

type RemoveProducer struct{ ProducerID string }

type SetProducerPaused struct{ ProducerID string }

type SetProducerResumed struct{ ProducerID string }

type SetProducerScore struct {
	ProducerID string
	Score      int
}

type SetProducerDevice struct {
	ProducerID  string
	DeviceLabel string
}

type SetPeerVolume struct {
	PeerID domain.PeerID
	Volume int
}

type SetDominantSpeaker struct{ PeerID domain.PeerID }

type SetCanChangeWebcam struct{ Can bool }

type SetMediaCapabilities struct {
	CanSendMic    bool
	CanSendWebcam bool
}

type SetWebcamInProgress struct{ InProgress bool }

type SetShareInProgress struct{ InProgress bool }

type ToggleMuted struct{}

type SetPeerSpotlight struct {
	PeerID domain.PeerID
	Origin Origin
}

type SetPeerTalking struct {
	PeerID  domain.PeerID
	Talking bool
	At      time.Time
}

type RaiseHand struct{ PeerID domain.PeerID }

type LowerHand struct{ PeerID domain.PeerID }

type PromoteBroadcaster struct{ PeerID domain.PeerID }

type DemoteBroadcaster struct{ PeerID domain.PeerID }

type AddReaction struct {
	PeerID domain.PeerID
	Emoji  string
	At     time.Time
}

type ClearReactions struct{}

type UpdateCallConfig struct {
	AudioOnly   bool
	HighQuality bool
	CallSlots   int
	StageSlots  int
}

func (InitializeCall) isAction()             {}
func (InitializeBroadcast) isAction()        {}
func (AddPeers) isAction()                   {}
func (RemovePeer) isAction()                 {}
func (ExitCall) isAction()                   {}
func (SetRoomState) isAction()               {}
func (AddConsumer) isAction()                {}
func (RemoveConsumer) isAction()             {}
func (SetConsumerPaused) isAction()          {}
func (SetConsumerResumed) isAction()         {}
func (SetConsumerCurrentLayers) isAction()   {}
func (SetConsumerPreferredLayers) isAction() {}
func (SetConsumerScore) isAction()           {}
func (SetConsumerPriority) isAction()        {}
func (AddProducer) isAction()                {}
func (RemoveProducer) isAction()             {}
func (SetProducerPaused) isAction()          {}
func (SetProducerResumed) isAction()         {}
func (SetProducerScore) isAction()           {}
func (SetProducerDevice) isAction()          {}
func (SetPeerVolume) isAction()              {}
func (SetDominantSpeaker) isAction()         {}
func (SetCanChangeWebcam) isAction()         {}
func (SetMediaCapabilities) isAction()       {}
func (SetWebcamInProgress) isAction()        {}
func (SetShareInProgress) isAction()         {}
func (ToggleMuted) isAction()                {}
func (SetPeerSpotlight) isAction()           {}
func (SetPeerTalking) isAction()             {}
func (RaiseHand) isAction()                  {}
func (LowerHand) isAction()                  {}
func (PromoteBroadcaster) isAction()         {}
func (DemoteBroadcaster) isAction()          {}
func (AddReaction) isAction()                {}
func (ClearReactions) isAction()             {}
func (UpdateCallConfig) isAction()           {}
