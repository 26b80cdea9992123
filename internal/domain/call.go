package domain

import "time"

type (
	CallID      string
	CommunityID string
)

// CallKind distinguishes free-for-all calls from stage/audience broadcasts.
type CallKind string

const (
	CallKindStandard  CallKind = "standard"
	CallKindBroadcast CallKind = "broadcast"
)

// Call is the metadata record the call-management API hands out before a
// session starts. The orchestrator never mutates it.
type Call struct {
	ID            CallID      `json:"id"`
	CommunityID   CommunityID `json:"communityId"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	CallServerURL string      `json:"callServerUrl"`
	Kind          CallKind    `json:"callType"`
	Creator       PeerID      `json:"callCreator"`
	AudioOnly     bool        `json:"audioOnly"`
	HighQuality   bool        `json:"highQuality"`
	Slots         int         `json:"slots"`
	StageSlots    int         `json:"stageSlots"`
	StartedAt     time.Time   `json:"startedAt"`
	ScheduleDate  *time.Time  `json:"scheduleDate,omitempty"`
}

// Scheduled reports whether the call belongs to a scheduled community event.
func (c *Call) Scheduled() bool { return c.ScheduleDate != nil }

// CallPermission is a single capability a community role may hold in a call.
type CallPermission string

const (
	PermissionCallExists        CallPermission = "CALL_EXISTS"
	PermissionCallJoin          CallPermission = "CALL_JOIN"
	PermissionAudioSend         CallPermission = "AUDIO_SEND"
	PermissionVideoSend         CallPermission = "VIDEO_SEND"
	PermissionChannelRead       CallPermission = "CHANNEL_READ"
	PermissionChannelWrite      CallPermission = "CHANNEL_WRITE"
	PermissionShareScreen       CallPermission = "SHARE_SCREEN"
	PermissionCallModerate      CallPermission = "CALL_MODERATE"
	PermissionPinForEveryone    CallPermission = "PIN_FOR_EVERYONE"
	PermissionEndCallForAll     CallPermission = "END_CALL_FOR_EVERYONE"
)

// RolePermissions binds a community role to its granted call permissions.
type RolePermissions struct {
	RoleID      string           `json:"roleId"`
	Permissions []CallPermission `json:"permissions"`
}

// PermissionPreset is the coarse level a call creator picks per role; the
// lifecycle manager expands it into the concrete permission list.
type PermissionPreset string

const (
	PresetFull     PermissionPreset = "full"
	PresetModerate PermissionPreset = "moderate"
)

// Expand maps a preset to the concrete permissions it grants.
func (p PermissionPreset) Expand() []CallPermission {
	switch p {
	case PresetFull:
		return []CallPermission{
			PermissionCallExists, PermissionCallJoin,
			PermissionAudioSend, PermissionVideoSend,
			PermissionChannelRead, PermissionChannelWrite,
			PermissionShareScreen,
		}
	case PresetModerate:
		return []CallPermission{
			PermissionCallExists, PermissionCallJoin,
			PermissionAudioSend, PermissionVideoSend,
			PermissionChannelRead, PermissionChannelWrite,
			PermissionCallModerate, PermissionPinForEveryone,
			PermissionEndCallForAll,
		}
	default:
		return nil
	}
}
