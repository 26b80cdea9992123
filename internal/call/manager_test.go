package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrium/callkit/internal/api"
	"github.com/atrium/callkit/internal/domain"
	"github.com/atrium/callkit/internal/media"
	"github.com/atrium/callkit/internal/session"
)

// ---- fakes ----

type fakeAPI struct {
	mu         sync.Mutex
	created    []api.CreateCallRequest
	createErr  error
	createGate chan struct{}
	registered chan domain.CallID
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{registered: make(chan domain.CallID, 1)}
}

func (f *fakeAPI) CreateCall(_ context.Context, req api.CreateCallRequest) (*domain.Call, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	f.created = append(f.created, req)
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &domain.Call{
		ID:            "call-1",
		CommunityID:   req.CommunityID,
		Title:         req.Title,
		CallServerURL: "https://calls.example.com",
		Kind:          req.Kind,
		Creator:       "me",
		AudioOnly:     req.AudioOnly,
		HighQuality:   req.HighQuality,
		StartedAt:     time.Now(),
	}, nil
}

func (f *fakeAPI) GetCall(_ context.Context, id domain.CallID) (*domain.Call, error) {
	return &domain.Call{ID: id, Kind: domain.CallKindStandard, StartedAt: time.Now()}, nil
}

func (f *fakeAPI) RegisterEventParticipant(_ context.Context, id domain.CallID) error {
	f.registered <- id
	return nil
}

type fakeSession struct {
	mu         sync.Mutex
	joinErr    error
	joined     bool
	closed     bool
	micEnabled bool
	unmuteErr  error
	unmutes    int
	mutes      int
}

func (f *fakeSession) Join(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = true
	return nil
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSession) IsMicEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.micEnabled
}

func (f *fakeSession) MuteMic(context.Context) {
	f.mu.Lock()
	f.mutes++
	f.mu.Unlock()
}

func (f *fakeSession) UnmuteMic(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unmuteErr != nil {
		return f.unmuteErr
	}
	f.unmutes++
	f.micEnabled = true
	return nil
}

type countingSounds struct {
	mu sync.Mutex

	joins, leaves, peerIn, peerOut int
}

func (s *countingSounds) Join()       { s.mu.Lock(); s.joins++; s.mu.Unlock() }
func (s *countingSounds) Leave()      { s.mu.Lock(); s.leaves++; s.mu.Unlock() }
func (s *countingSounds) PeerJoined() { s.mu.Lock(); s.peerIn++; s.mu.Unlock() }
func (s *countingSounds) PeerLeft()   { s.mu.Lock(); s.peerOut++; s.mu.Unlock() }

type stubEngine struct{}

func (stubEngine) Load(media.RTPCapabilities) error { return nil }
func (stubEngine) Loaded() bool                     { return true }
func (stubEngine) RTPCapabilities() media.RTPCapabilities {
	return media.RTPCapabilities{}
}
func (stubEngine) CanProduce(media.Kind) bool { return true }
func (stubEngine) CreateSendTransport(media.TransportInfo, media.TransportCallbacks) (media.Transport, error) {
	return nil, media.ErrNotLoaded
}
func (stubEngine) CreateRecvTransport(media.TransportInfo, media.TransportCallbacks) (media.Transport, error) {
	return nil, media.ErrNotLoaded
}

// ---- harness ----

type managerHarness struct {
	manager  *Manager
	api      *fakeAPI
	sounds   *countingSounds
	sess     *fakeSession
	mu       sync.Mutex
	lastOpts session.Options
	factory  int
}

func newManagerHarness() *managerHarness {
	h := &managerHarness{
		api:    newFakeAPI(),
		sounds: &countingSounds{},
		sess:   &fakeSession{},
	}
	h.manager = NewManager(Options{
		API:       h.api,
		User:      &domain.User{ID: "me", DisplayName: "me"},
		NewEngine: func() (media.Engine, error) { return stubEngine{}, nil },
		Sounds:    h.sounds,
		Lock:      NopWakeLock{},
		Factory: func(opts session.Options) SessionClient {
			h.mu.Lock()
			h.lastOpts = opts
			h.factory++
			h.mu.Unlock()
			return h.sess
		},
	})
	return h
}

func (h *managerHarness) opts() session.Options {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastOpts
}

func standardCall() *domain.Call {
	return &domain.Call{
		ID:            "call-1",
		CallServerURL: "https://calls.example.com",
		Kind:          domain.CallKindStandard,
		Creator:       "creator",
		StartedAt:     time.Now(),
	}
}

// ---- tests ----

func TestStartCallExpandsRolePresets(t *testing.T) {
	h := newManagerHarness()
	err := h.manager.StartCall(context.Background(), StartCallParams{
		CommunityID: "comm-1",
		Title:       "standup",
		Kind:        domain.CallKindStandard,
		RolePresets: map[string]domain.PermissionPreset{"role-1": domain.PresetModerate},
	})
	require.NoError(t, err)

	require.Len(t, h.api.created, 1)
	req := h.api.created[0]
	require.Len(t, req.RolePermissions, 1)
	assert.Equal(t, "role-1", req.RolePermissions[0].RoleID)
	assert.Contains(t, req.RolePermissions[0].Permissions, domain.PermissionCallModerate)
	assert.Contains(t, req.RolePermissions[0].Permissions, domain.PermissionEndCallForAll)

	assert.True(t, h.sess.joined)
	assert.Equal(t, 1, h.sounds.joins)
}

func TestStartCallRejectsConcurrentStart(t *testing.T) {
	h := newManagerHarness()
	h.api.createGate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- h.manager.StartCall(context.Background(), StartCallParams{Kind: domain.CallKindStandard})
	}()

	require.Eventually(t, func() bool {
		return h.manager.StartCall(context.Background(), StartCallParams{}) == ErrStartPending
	}, time.Second, 5*time.Millisecond)

	close(h.api.createGate)
	require.NoError(t, <-done)
}

func TestStartCallWithoutUser(t *testing.T) {
	m := NewManager(Options{API: newFakeAPI()})
	assert.ErrorIs(t, m.StartCall(context.Background(), StartCallParams{}), ErrNoLocalUser)
	assert.ErrorIs(t, m.JoinCall(context.Background(), standardCall()), ErrNoLocalUser)
}

func TestJoinCallWiresSessionOptions(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))

	opts := h.opts()
	assert.True(t, opts.Produce)
	assert.True(t, opts.Consume)
	assert.True(t, opts.Muted)
	assert.NotNil(t, h.manager.Client())
}

func TestJoinBroadcastOnlyCreatorProduces(t *testing.T) {
	h := newManagerHarness()
	broadcast := standardCall()
	broadcast.Kind = domain.CallKindBroadcast

	require.NoError(t, h.manager.JoinCall(context.Background(), broadcast))
	assert.False(t, h.opts().Produce)

	broadcast.Creator = "me"
	require.NoError(t, h.manager.JoinCall(context.Background(), broadcast))
	assert.True(t, h.opts().Produce)
}

func TestJoinFailureIsNotAnError(t *testing.T) {
	h := newManagerHarness()
	h.sess.joinErr = errors.New("handshake refused")

	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	assert.Nil(t, h.manager.Client())
	assert.Equal(t, session.RoomDisconnected, h.manager.State().RoomState)
	assert.Zero(t, h.sounds.joins)
}

func TestJoinReplacesPreviousSession(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	first := h.sess

	h.sess = &fakeSession{}
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))

	assert.True(t, first.closed)
	assert.Equal(t, 2, h.factory)
}

func TestScheduledJoinRegistersParticipant(t *testing.T) {
	h := newManagerHarness()
	callData := standardCall()
	when := time.Now().Add(time.Hour)
	callData.ScheduleDate = &when

	require.NoError(t, h.manager.JoinCall(context.Background(), callData))
	select {
	case id := <-h.api.registered:
		assert.Equal(t, domain.CallID("call-1"), id)
	case <-time.After(time.Second):
		t.Fatal("participant registration was never attempted")
	}
}

func TestLeaveCall(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))

	h.manager.LeaveCall()
	assert.True(t, h.sess.closed)
	assert.Equal(t, 1, h.sounds.leaves)
	assert.Nil(t, h.manager.Client())

	// A second leave without a session is a no-op.
	h.manager.LeaveCall()
	assert.Equal(t, 1, h.sounds.leaves)
}

func TestToggleMuteCreatesMicOnFirstUnmute(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	require.True(t, h.manager.State().Muted)

	require.NoError(t, h.manager.ToggleMute(context.Background()))
	assert.False(t, h.manager.State().Muted)
	assert.Equal(t, 1, h.sess.unmutes)

	require.NoError(t, h.manager.ToggleMute(context.Background()))
	assert.True(t, h.manager.State().Muted)
	assert.Equal(t, 1, h.sess.mutes)
}

func TestToggleMuteSurfacesCaptureFailure(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	h.sess.unmuteErr = errors.New("permission denied")

	err := h.manager.ToggleMute(context.Background())
	assert.ErrorIs(t, err, ErrMicUnavailable)
	// The muted flag must not flip when capture failed.
	assert.True(t, h.manager.State().Muted)
}

func TestToggleMuteWithoutSession(t *testing.T) {
	h := newManagerHarness()
	assert.ErrorIs(t, h.manager.ToggleMute(context.Background()), ErrNoSession)
}

func TestModerationMuteReconcilesFlag(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	require.NoError(t, h.manager.ToggleMute(context.Background()))
	require.False(t, h.manager.State().Muted)

	h.opts().OnModerationMuted()
	assert.True(t, h.manager.State().Muted)

	// Already muted: a second moderation mute must not unmute.
	h.opts().OnModerationMuted()
	assert.True(t, h.manager.State().Muted)
}

func TestMembershipCuesOnStandardCalls(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	dispatch := h.opts().Dispatch

	dispatch(session.InitializeCall{
		Call: standardCall(),
		Me:   session.Peer{ID: "me", Priority: 1},
	})
	dispatch(session.AddPeers{Peers: []session.Peer{{ID: "p1", Priority: 1}}})
	dispatch(session.RemovePeer{PeerID: "p1"})

	h.sounds.mu.Lock()
	defer h.sounds.mu.Unlock()
	assert.Equal(t, 1, h.sounds.peerIn)
	assert.Equal(t, 1, h.sounds.peerOut)
}

func TestRosterSeedDoesNotPlayJoinCue(t *testing.T) {
	h := newManagerHarness()
	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	dispatch := h.opts().Dispatch

	dispatch(session.InitializeCall{
		Call: standardCall(),
		Me:   session.Peer{ID: "me", Priority: 1},
	})
	// The roster delivered with the join response lists participants who
	// were already there; only the later arrival plays the cue.
	dispatch(session.AddPeers{Peers: []session.Peer{{ID: "p1", Priority: 1}, {ID: "p2", Priority: 1}}, Seed: true})
	dispatch(session.AddPeers{Peers: []session.Peer{{ID: "p3", Priority: 1}}})

	h.sounds.mu.Lock()
	defer h.sounds.mu.Unlock()
	assert.Equal(t, 1, h.sounds.peerIn)
}

func TestMembershipCuesSilentOnBroadcasts(t *testing.T) {
	h := newManagerHarness()
	broadcast := standardCall()
	broadcast.Kind = domain.CallKindBroadcast
	require.NoError(t, h.manager.JoinCall(context.Background(), broadcast))
	dispatch := h.opts().Dispatch

	dispatch(session.InitializeCall{
		Call: broadcast,
		Me:   session.Peer{ID: "me", Priority: 1},
	})
	dispatch(session.AddPeers{Peers: []session.Peer{{ID: "p1", Priority: 1}}})

	h.sounds.mu.Lock()
	defer h.sounds.mu.Unlock()
	assert.Zero(t, h.sounds.peerIn)
}

func TestSubscribeObservesEveryDispatch(t *testing.T) {
	h := newManagerHarness()
	var states []session.State
	h.manager.Subscribe(func(s session.State) { states = append(states, s) })

	require.NoError(t, h.manager.JoinCall(context.Background(), standardCall()))
	h.opts().Dispatch(session.InitializeCall{
		Call: standardCall(),
		Me:   session.Peer{ID: "me", Priority: 1},
	})

	require.NotEmpty(t, states)
	assert.NotNil(t, states[len(states)-1].Call)
}
