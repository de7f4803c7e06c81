package models

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusConnecting
	StatusSyncing
	StatusWarning
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusSyncing:
		return "syncing"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// SyncStatus is a tagged union; only the fields of the active Kind are set.
//
//	Idle
//	Connecting(DeviceName)
//	Syncing(CharacterGUID, EndpointID, EndpointName)
//	Warning(CharacterGUID, Message, StaleSince)
//	Error(Message)
type SyncStatus struct {
	Kind          StatusKind
	DeviceName    string
	CharacterGUID string
	EndpointID    string
	EndpointName  string
	Message       string
	StaleSince    time.Time
}

func Idle() SyncStatus {
	return SyncStatus{Kind: StatusIdle}
}

func Connecting(deviceName string) SyncStatus {
	return SyncStatus{Kind: StatusConnecting, DeviceName: deviceName}
}

func Syncing(characterGUID, endpointID, endpointName string) SyncStatus {
	return SyncStatus{Kind: StatusSyncing, CharacterGUID: characterGUID, EndpointID: endpointID, EndpointName: endpointName}
}

func Warning(characterGUID, message string, staleSince time.Time) SyncStatus {
	return SyncStatus{Kind: StatusWarning, CharacterGUID: characterGUID, Message: message, StaleSince: staleSince}
}

func Failed(message string) SyncStatus {
	return SyncStatus{Kind: StatusError, Message: message}
}

// Active reports whether a peer is connected, stale or not.
func (s SyncStatus) Active() bool {
	return s.Kind == StatusSyncing || s.Kind == StatusWarning
}

type syncStatusJSON struct {
	Status        string     `json:"status"`
	DeviceName    string     `json:"deviceName,omitempty"`
	CharacterGUID string     `json:"characterGuid,omitempty"`
	EndpointID    string     `json:"endpointId,omitempty"`
	EndpointName  string     `json:"endpointName,omitempty"`
	Message       string     `json:"message,omitempty"`
	StaleSince    *time.Time `json:"staleSince,omitempty"`
}

func (s SyncStatus) MarshalJSON() ([]byte, error) {
	out := syncStatusJSON{
		Status:        s.Kind.String(),
		DeviceName:    s.DeviceName,
		CharacterGUID: s.CharacterGUID,
		EndpointID:    s.EndpointID,
		EndpointName:  s.EndpointName,
		Message:       s.Message,
	}
	if !s.StaleSince.IsZero() {
		since := s.StaleSince
		out.StaleSince = &since
	}
	return json.Marshal(out)
}
