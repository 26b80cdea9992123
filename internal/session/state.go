package session

import (
	"time"

	"github.com/atrium/callkit/internal/domain"
	"github.com/atrium/callkit/internal/media"
)

// RoomState tracks the signaling connection lifecycle.
type RoomState string

const (
	RoomDisconnected RoomState = "disconnected"
	RoomConnecting   RoomState = "connecting"
	RoomConnected    RoomState = "connected"
	RoomClosed       RoomState = "closed"
)

// ReactionWindow is how long a reaction stays in the recent list.
const ReactionWindow = 5 * time.Second

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// ProducerSource identifies what a local producer captures.
type ProducerSource string

const (
	SourceMic   ProducerSource = "mic"
	SourceFront ProducerSource = "front"
	SourceBack  ProducerSource = "back"
	SourceShare ProducerSource = "share"
)

func (s ProducerSource) IsWebcam() bool { return s == SourceFront || s == SourceBack }

type Reaction struct {
	PeerID domain.PeerID
	Emoji  string
	At     time.Time
}

type Peer struct {
	ID          domain.PeerID
	DisplayName string
	Device      domain.DeviceInfo
	Consumers   []string
	IsMe        bool
	Volume      int
	Priority    int
	Webcam      bool
	Sharing     bool
	Talking     bool
	HandRaised  bool
	Broadcaster bool
	LastEventAt time.Time
	Reaction    *Reaction
}

type Consumer struct {
	ID                string
	PeerID            domain.PeerID
	Kind              media.Kind
	LocallyPaused     bool
	RemotelyPaused    bool
	SpatialLayers     int
	TemporalLayers    int
	PreferredSpatial  int
	PreferredTemporal int
	CurrentSpatial    int
	CurrentTemporal   int
	Priority          int
	Codec             string
	Score             int
}

func (c Consumer) Paused() bool { return c.LocallyPaused || c.RemotelyPaused }

type Producer struct {
	ID          string
	Source      ProducerSource
	Kind        media.Kind
	Paused      bool
	Codec       string
	DeviceLabel string
	Score       int
}

// Me is the local participant's capability and media flags.
type Me struct {
	ID               domain.PeerID
	DisplayName      string
	Device           domain.DeviceInfo
	CanSendMic       bool
	CanSendWebcam    bool
	CanChangeWebcam  bool
	WebcamInProgress bool
	ShareInProgress  bool
	Webcam           bool
	Sharing          bool
	Broadcaster      bool
	HandRaised       bool
}

// State is the immutable session snapshot. The reducer returns fresh values
// with untouched maps shared, so consumers can compare by reference.
type State struct {
	Call            *domain.Call
	CallID          domain.CallID
	CallName        string
	CallDescription string
	CommunityID     domain.CommunityID
	StartTime       time.Time

	RoomState RoomState
	Connected bool
	Muted     bool

	Me              Me
	Peers           map[domain.PeerID]*Peer
	Consumers       map[string]*Consumer
	Producers       map[string]*Producer
	Broadcasters    map[domain.PeerID]struct{}
	RaisedHands     map[domain.PeerID]struct{}
	ActiveSpeaker   domain.PeerID
	Spotlight       domain.PeerID
	SpotlightOrigin Origin
	RecentReactions []Reaction

	AudioOnly   bool
	HighQuality bool
	CallSlots   int
	StageSlots  int
}

func NewState() State {
	return State{
		RoomState:    RoomDisconnected,
		Muted:        true,
		Peers:        map[domain.PeerID]*Peer{},
		Consumers:    map[string]*Consumer{},
		Producers:    map[string]*Producer{},
		Broadcasters: map[domain.PeerID]struct{}{},
		RaisedHands:  map[domain.PeerID]struct{}{},
	}
}

func clonePeers(m map[domain.PeerID]*Peer) map[domain.PeerID]*Peer {
	out := make(map[domain.PeerID]*Peer, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConsumers(m map[string]*Consumer) map[string]*Consumer {
	out := make(map[string]*Consumer, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneProducers(m map[string]*Producer) map[string]*Producer {
	out := make(map[string]*Producer, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSet(m map[domain.PeerID]struct{}) map[domain.PeerID]struct{} {
	out := make(map[domain.PeerID]struct{}, len(m)+1)
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}
