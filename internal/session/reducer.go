package session

import (
	"fmt"

	"github.com/atrium/callkit/internal/domain"
	"github.com/atrium/callkit/internal/media"
)

// Reduce folds one action into the snapshot. It is pure: the input state is
// never mutated, and untouched maps are carried over by reference.
func Reduce(s State, action Action) State {
	switch a := action.(type) {
	case InitializeCall:
		me := a.Me
		me.IsMe = true
		peers := clonePeers(s.Peers)
		peers[me.ID] = &me

		s.Call = a.Call
		s.CallID = a.Call.ID
		s.CallName = a.Call.Title
		s.CallDescription = a.Call.Description
		s.CommunityID = a.Call.CommunityID
		s.StartTime = a.StartTime
		s.Peers = peers
		s.Connected = true
		s.Muted = a.Muted
		s.RoomState = RoomConnected
		s.AudioOnly = a.AudioOnly
		s.HighQuality = a.HighQuality
		s.CallSlots = a.CallSlots
		s.StageSlots = a.StageSlots
		s.Me = Me{
			ID:          me.ID,
			DisplayName: me.DisplayName,
			Device:      me.Device,
			Broadcaster: a.Call.Creator == me.ID,
		}
		return s

	case InitializeBroadcast:
		peers := clonePeers(s.Peers)
		broadcasters := cloneSet(s.Broadcasters)
		raised := cloneSet(s.RaisedHands)
		inSet := func(ids []domain.PeerID, id domain.PeerID) bool {
			for _, v := range ids {
				if v == id {
					return true
				}
			}
			return false
		}
		for _, p := range a.Peers {
			p := p
			p.Priority = 1
			p.Consumers = nil
			p.Broadcaster = inSet(a.Broadcasters, p.ID)
			p.HandRaised = inSet(a.RaisedHands, p.ID)
			peers[p.ID] = &p
		}
		for _, id := range a.Broadcasters {
			broadcasters[id] = struct{}{}
		}
		for _, id := range a.RaisedHands {
			raised[id] = struct{}{}
		}
		s.Peers = peers
		s.Broadcasters = broadcasters
		s.RaisedHands = raised
		return s

	case AddPeers:
		peers := clonePeers(s.Peers)
		for _, p := range a.Peers {
			p := p
			p.Priority = 1
			peers[p.ID] = &p
		}
		s.Peers = peers
		return s

	case RemovePeer:
		if _, ok := s.Peers[a.PeerID]; ok {
			peers := clonePeers(s.Peers)
			delete(peers, a.PeerID)
			s.Peers = peers
		}
		if _, ok := s.Broadcasters[a.PeerID]; ok {
			broadcasters := cloneSet(s.Broadcasters)
			delete(broadcasters, a.PeerID)
			s.Broadcasters = broadcasters
		}
		if _, ok := s.RaisedHands[a.PeerID]; ok {
			raised := cloneSet(s.RaisedHands)
			delete(raised, a.PeerID)
			s.RaisedHands = raised
		}
		return s

	case ExitCall:
		return NewState()

	case SetRoomState:
		s.RoomState = a.State
		return s

	case AddConsumer:
		c := a.Consumer
		c.PeerID = a.PeerID
		consumers := cloneConsumers(s.Consumers)
		consumers[c.ID] = &c
		s.Consumers = consumers

		if peer, ok := s.Peers[a.PeerID]; ok {
			p := *peer
			if !containsString(p.Consumers, c.ID) {
				p.Consumers = append(append([]string{}, p.Consumers...), c.ID)
			}
			switch c.Kind {
			case media.KindVideo:
				p.Priority = 1
				p.Webcam = true
			case media.KindShare:
				p.Priority = 2
				p.Sharing = true
			}
			peers := clonePeers(s.Peers)
			peers[p.ID] = &p
			s.Peers = peers
		}
		return s

	case RemoveConsumer:
		var kind media.Kind
		if c, ok := s.Consumers[a.ConsumerID]; ok {
			kind = c.Kind
			consumers := cloneConsumers(s.Consumers)
			delete(consumers, a.ConsumerID)
			s.Consumers = consumers
		}
		if peer, ok := s.Peers[a.PeerID]; ok {
			p := *peer
			p.Consumers = removeString(p.Consumers, a.ConsumerID)
			p.Priority = 1
			switch kind {
			case media.KindVideo:
				p.Webcam = false
			case media.KindShare:
				p.Sharing = false
			}
			peers := clonePeers(s.Peers)
			peers[p.ID] = &p
			s.Peers = peers
		}
		return s

	case SetConsumerPaused:
		return updateConsumer(s, a.ConsumerID, func(c *Consumer) {
			if a.Origin == OriginLocal {
				c.LocallyPaused = true
			} else {
				c.RemotelyPaused = true
			}
		})

	case SetConsumerResumed:
		return updateConsumer(s, a.ConsumerID, func(c *Consumer) {
			if a.Origin == OriginLocal {
				c.LocallyPaused = false
			} else {
				c.RemotelyPaused = false
			}
		})

	case SetConsumerCurrentLayers:
		return updateConsumer(s, a.ConsumerID, func(c *Consumer) {
			c.CurrentSpatial = a.Spatial
			c.CurrentTemporal = a.Temporal
		})

	case SetConsumerPreferredLayers:
		return updateConsumer(s, a.ConsumerID, func(c *Consumer) {
			c.PreferredSpatial = a.Spatial
			c.PreferredTemporal = a.Temporal
		})

	case SetConsumerScore:
		return updateConsumer(s, a.ConsumerID, func(c *Consumer) { c.Score = a.Score })

	case SetConsumerPriority:
		return updateConsumer(s, a.ConsumerID, func(c *Consumer) { c.Priority = a.Priority })

	case AddProducer:
		p := a.Producer
		producers := cloneProducers(s.Producers)
		producers[p.ID] = &p
		s.Producers = producers
		if p.Source.IsWebcam() {
			s.Me.Webcam = true
		} else if p.Source == SourceShare {
			s.Me.Sharing = true
		}
		return s

	case RemoveProducer:
		if p, ok := s.Producers[a.ProducerID]; ok {
			if p.Source.IsWebcam() {
				s.Me.Webcam = false
			} else if p.Source == SourceShare {
				s.Me.Sharing = false
			}
			producers := cloneProducers(s.Producers)
			delete(producers, a.ProducerID)
			s.Producers = producers
		}
		return s

	case SetProducerPaused:
		return updateProducer(s, a.ProducerID, func(p *Producer) { p.Paused = true })

	case SetProducerResumed:
		return updateProducer(s, a.ProducerID, func(p *Producer) { p.Paused = false })

	case SetProducerScore:
		return updateProducer(s, a.ProducerID, func(p *Producer) { p.Score = a.Score })

	case SetProducerDevice:
		return updateProducer(s, a.ProducerID, func(p *Producer) { p.DeviceLabel = a.DeviceLabel })

	case SetPeerVolume:
		return updatePeer(s, a.PeerID, func(p *Peer) { p.Volume = a.Volume })

	case SetDominantSpeaker:
		s.ActiveSpeaker = a.PeerID
		return s

	case SetCanChangeWebcam:
		s.Me.CanChangeWebcam = a.Can
		return s

	case SetMediaCapabilities:
		s.Me.CanSendMic = a.CanSendMic
		s.Me.CanSendWebcam = a.CanSendWebcam
		return s

	case SetWebcamInProgress:
		s.Me.WebcamInProgress = a.InProgress
		return s

	case SetShareInProgress:
		s.Me.ShareInProgress = a.InProgress
		return s

	case ToggleMuted:
		s.Muted = !s.Muted
		return s

	case SetPeerSpotlight:
		// A remote spotlight wins over a local one and cannot be displaced
		// locally.
		if a.Origin != OriginRemote && s.SpotlightOrigin == OriginRemote {
			return s
		}
		s.Spotlight = a.PeerID
		s.SpotlightOrigin = a.Origin
		return s

	case SetPeerTalking:
		return updatePeer(s, a.PeerID, func(p *Peer) {
			p.Talking = a.Talking
			p.LastEventAt = a.At
		})

	case RaiseHand:
		s = updatePeer(s, a.PeerID, func(p *Peer) { p.HandRaised = true })
		raised := cloneSet(s.RaisedHands)
		raised[a.PeerID] = struct{}{}
		s.RaisedHands = raised
		if s.Me.ID == a.PeerID {
			s.Me.HandRaised = true
		}
		return s

	case LowerHand:
		s = updatePeer(s, a.PeerID, func(p *Peer) { p.HandRaised = false })
		if _, ok := s.RaisedHands[a.PeerID]; ok {
			raised := cloneSet(s.RaisedHands)
			delete(raised, a.PeerID)
			s.RaisedHands = raised
		}
		if s.Me.ID == a.PeerID {
			s.Me.HandRaised = false
		}
		return s

	case PromoteBroadcaster:
		s = updatePeer(s, a.PeerID, func(p *Peer) { p.Broadcaster = true })
		broadcasters := cloneSet(s.Broadcasters)
		broadcasters[a.PeerID] = struct{}{}
		s.Broadcasters = broadcasters
		if s.Me.ID == a.PeerID {
			s.Me.Broadcaster = true
			s.Me.HandRaised = false
		}
		return s

	case DemoteBroadcaster:
		s = updatePeer(s, a.PeerID, func(p *Peer) { p.Broadcaster = false })
		if _, ok := s.Broadcasters[a.PeerID]; ok {
			broadcasters := cloneSet(s.Broadcasters)
			delete(broadcasters, a.PeerID)
			s.Broadcasters = broadcasters
		}
		if s.Me.ID == a.PeerID {
			s.Me.Broadcaster = false
			s.Me.Webcam = false
			s.Me.Sharing = false
			s.Muted = true
		}
		return s

	case AddReaction:
		r := Reaction{PeerID: a.PeerID, Emoji: a.Emoji, At: a.At}
		s = updatePeer(s, a.PeerID, func(p *Peer) { p.Reaction = &r })

		recent := make([]Reaction, 0, len(s.RecentReactions)+1)
		for _, rr := range s.RecentReactions {
			if rr.At.Add(ReactionWindow).After(a.At) {
				recent = append(recent, rr)
			}
		}
		s.RecentReactions = append(recent, r)
		return s

	case ClearReactions:
		peers := make(map[domain.PeerID]*Peer, len(s.Peers))
		for id, peer := range s.Peers {
			p := *peer
			p.Reaction = nil
			peers[id] = &p
		}
		s.Peers = peers
		s.RecentReactions = nil
		return s

	case UpdateCallConfig:
		s.AudioOnly = a.AudioOnly
		s.HighQuality = a.HighQuality
		s.CallSlots = a.CallSlots
		s.StageSlots = a.StageSlots
		return s

	default:
		panic(fmt.Sprintf("session: unhandled action %T", action))
	}
}

func updatePeer(s State, id domain.PeerID, fn func(*Peer)) State {
	peer, ok := s.Peers[id]
	if !ok {
		return s
	}
	p := *peer
	fn(&p)
	peers := clonePeers(s.Peers)
	peers[id] = &p
	s.Peers = peers
	return s
}

func updateConsumer(s State, id string, fn func(*Consumer)) State {
	consumer, ok := s.Consumers[id]
	if !ok {
		return s
	}
	c := *consumer
	fn(&c)
	consumers := cloneConsumers(s.Consumers)
	consumers[id] = &c
	s.Consumers = consumers
	return s
}

func updateProducer(s State, id string, fn func(*Producer)) State {
	producer, ok := s.Producers[id]
	if !ok {
		return s
	}
	p := *producer
	fn(&p)
	producers := cloneProducers(s.Producers)
	producers[id] = &p
	s.Producers = producers
	return s
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
