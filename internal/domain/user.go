// Package domain contains entities without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

// PeerID identifies a call participant; for logged-in users it equals UserID.
type PeerID string

type UserID string

// User is the locally authenticated account joining calls.
type User struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	DeviceID    string `json:"deviceId"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(displayName string) (*User, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	return &User{
		ID:          UserID(uuid.NewString()),
		DeviceID:    uuid.NewString(),
		DisplayName: displayName,
	}, nil
}

func (u *User) PeerID() PeerID { return PeerID(u.ID) }

// DeviceInfo describes the joining client software, shown to other peers.
type DeviceInfo struct {
	Flag    string `json:"flag"`
	Name    string `json:"name"`
	Version string `json:"version"`
}
