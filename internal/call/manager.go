// Package call bridges call metadata and a live session: it owns the session
// client's lifetime and the cross-cutting side effects around it (wake lock,
// audio cues, mute toggling).
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/atrium/callkit/internal/api"
	"github.com/atrium/callkit/internal/domain"
	"github.com/atrium/callkit/internal/media"
	"github.com/atrium/callkit/internal/session"
)

var (
	ErrNoLocalUser  = errors.New("call: no local user")
	ErrStartPending = errors.New("call: a call start is already in flight")
	ErrNoSession    = errors.New("call: no active session")
	// ErrMicUnavailable marks a permission or hardware failure the UI should
	// surface as a warning, not a crash.
	ErrMicUnavailable = errors.New("call: microphone unavailable")
)

// CallAPI is the slice of the call-management service the manager needs.
type CallAPI interface {
	CreateCall(ctx context.Context, req api.CreateCallRequest) (*domain.Call, error)
	GetCall(ctx context.Context, id domain.CallID) (*domain.Call, error)
	RegisterEventParticipant(ctx context.Context, id domain.CallID) error
}

// SessionClient is the slice of session.Client the manager drives directly;
// tests substitute a fake.
type SessionClient interface {
	Join(ctx context.Context) error
	Close()
	IsMicEnabled() bool
	MuteMic(ctx context.Context)
	UnmuteMic(ctx context.Context) error
}

// ClientFactory builds a session client from wired options.
type ClientFactory func(opts session.Options) SessionClient

func defaultFactory(opts session.Options) SessionClient {
	return session.NewClient(opts)
}

// StartCallParams is what a creator chooses before the call exists.
type StartCallParams struct {
	CommunityID domain.CommunityID
	Title       string
	Description string
	Kind        domain.CallKind
	Slots       int
	StageSlots  int
	AudioOnly   bool
	HighQuality bool
	// RolePresets maps community role ids to a coarse permission level.
	RolePresets map[string]domain.PermissionPreset
}

// Options wires a Manager.
type Options struct {
	API    CallAPI
	User   *domain.User
	Device domain.DeviceInfo

	NewEngine func() (media.Engine, error)
	Source    session.CaptureSource
	Auth      session.Authenticator

	Sounds  Sounds
	Lock    WakeLock
	Factory ClientFactory

	ConsumerReplicas int
}

// Manager owns at most one live session at a time.
type Manager struct {
	opts   Options
	keeper *Keeper

	starting atomic.Bool

	mu     sync.Mutex
	state  session.State
	client SessionClient
	subs   []func(session.State)
}

func NewManager(opts Options) *Manager {
	if opts.Sounds == nil {
		opts.Sounds = NopSounds{}
	}
	if opts.Factory == nil {
		opts.Factory = defaultFactory
	}
	return &Manager{
		opts:   opts,
		keeper: NewKeeper(opts.Lock),
		state:  session.NewState(),
	}
}

// State returns the latest snapshot.
func (m *Manager) State() session.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a snapshot observer, called after every action.
func (m *Manager) Subscribe(fn func(session.State)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// dispatch folds the action and runs the side effects that hang off state
// transitions: wake lock tracking, membership cues, observer notify.
func (m *Manager) dispatch(a session.Action) {
	m.mu.Lock()
	prev := m.state
	m.state = session.Reduce(m.state, a)
	cur := m.state
	subs := m.subs
	m.mu.Unlock()

	m.keeper.Want(len(cur.Peers) > 0)

	if prev.Call != nil && prev.Call.Kind == domain.CallKindStandard {
		switch v := a.(type) {
		case session.AddPeers:
			// The roster seed that arrives with the join response is not a
			// peer joining.
			if !v.Seed {
				m.opts.Sounds.PeerJoined()
			}
		case session.RemovePeer:
			m.opts.Sounds.PeerLeft()
		}
	}

	for _, fn := range subs {
		fn(cur)
	}
}

// StartCall creates a call via the management API and joins it. Only one
// start may be in flight.
func (m *Manager) StartCall(ctx context.Context, p StartCallParams) error {
	if m.opts.User == nil {
		return ErrNoLocalUser
	}
	if !m.starting.CompareAndSwap(false, true) {
		return ErrStartPending
	}
	defer m.starting.Store(false)

	var rolePerms []domain.RolePermissions
	for roleID, preset := range p.RolePresets {
		rolePerms = append(rolePerms, domain.RolePermissions{
			RoleID:      roleID,
			Permissions: preset.Expand(),
		})
	}

	created, err := m.opts.API.CreateCall(ctx, api.CreateCallRequest{
		CommunityID:     p.CommunityID,
		Title:           p.Title,
		Description:     p.Description,
		Kind:            p.Kind,
		Slots:           p.Slots,
		StageSlots:      p.StageSlots,
		AudioOnly:       p.AudioOnly,
		HighQuality:     p.HighQuality,
		RolePermissions: rolePerms,
	})
	if err != nil {
		return fmt.Errorf("start call: %w", err)
	}
	return m.JoinCall(ctx, created)
}

// JoinCall tears down any previous session and joins the given call. A
// failed join handshake is logged and the state returns to disconnected; it
// is not an error for the caller.
func (m *Manager) JoinCall(ctx context.Context, callData *domain.Call) error {
	if m.opts.User == nil {
		return ErrNoLocalUser
	}

	m.mu.Lock()
	old := m.client
	m.client = nil
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	engine, err := m.opts.NewEngine()
	if err != nil {
		return fmt.Errorf("media engine: %w", err)
	}

	// In a broadcast only the creator produces from the start; promotion
	// sets up producing for everyone else later.
	produce := callData.Kind == domain.CallKindStandard ||
		callData.Creator == m.opts.User.PeerID()

	client := m.opts.Factory(session.Options{
		Call:              callData,
		User:              m.opts.User,
		Device:            m.opts.Device,
		Produce:           produce,
		Consume:           true,
		ConsumerReplicas:  m.opts.ConsumerReplicas,
		Muted:             true,
		Auth:              m.opts.Auth,
		Engine:            engine,
		Source:            m.opts.Source,
		Dialer:            session.DialSignaling,
		Dispatch:          m.dispatch,
		OnModerationMuted: m.onModerationMuted,
	})

	if err := client.Join(ctx); err != nil {
		log.Error().Err(err).Str("module", "call").Str("call", string(callData.ID)).Msg("join failed")
		m.dispatch(session.ExitCall{})
		return nil
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.opts.Sounds.Join()

	if callData.Scheduled() {
		go func() {
			if err := m.opts.API.RegisterEventParticipant(context.Background(), callData.ID); err != nil {
				log.Warn().Err(err).Str("module", "call").Msg("event participant registration failed")
			}
		}()
	}
	return nil
}

// LeaveCall closes the session and releases the side-effect resources.
func (m *Manager) LeaveCall() {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client == nil {
		return
	}
	m.opts.Sounds.Leave()
	client.Close()
	m.keeper.Want(false)
}

// ToggleMute flips the mute flag, creating a microphone producer on first
// unmute. Capture failures surface as ErrMicUnavailable.
func (m *Manager) ToggleMute(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	muted := m.state.Muted
	m.mu.Unlock()
	if client == nil {
		return ErrNoSession
	}

	if client.IsMicEnabled() {
		if muted {
			if err := client.UnmuteMic(ctx); err != nil {
				return fmt.Errorf("%w: %v", ErrMicUnavailable, err)
			}
		} else {
			client.MuteMic(ctx)
		}
		m.dispatch(session.ToggleMuted{})
		return nil
	}

	if err := client.UnmuteMic(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}
	m.dispatch(session.ToggleMuted{})
	return nil
}

// Client returns the live session client for operations the manager does not
// wrap (webcam, share, moderation). Nil when no session is active.
func (m *Manager) Client() SessionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// OnVisible re-acquires the wake lock after the platform released it while
// the app was hidden.
func (m *Manager) OnVisible() { m.keeper.OnVisible() }

// OnWakeLockRevoked records a platform-side release.
func (m *Manager) OnWakeLockRevoked() { m.keeper.Revoked() }

func (m *Manager) onModerationMuted() {
	m.mu.Lock()
	muted := m.state.Muted
	m.mu.Unlock()
	if !muted {
		m.dispatch(session.ToggleMuted{})
	}
}
