// Package transport defines the proximity data-link the sync engine drives and
// ships two implementations: an in-process loopback hub and WebSocket.
package transport

import (
	"context"
	"fmt"
)

type StateKind int

const (
	StateAdvertising StateKind = iota
	StateConnected
	StateDisconnected
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(k))
}

// ConnectionState is a tagged union:
//
//	Advertising
//	Connected(EndpointID, EndpointName)
//	Disconnected(Reason)
//	Error(Message)
type ConnectionState struct {
	Kind         StateKind
	EndpointID   string
	EndpointName string
	Reason       string
	Message      string
}

func Advertising() ConnectionState {
	return ConnectionState{Kind: StateAdvertising}
}

func Connected(endpointID, endpointName string) ConnectionState {
	return ConnectionState{Kind: StateConnected, EndpointID: endpointID, EndpointName: endpointName}
}

func Disconnected(reason string) ConnectionState {
	return ConnectionState{Kind: StateDisconnected, Reason: reason}
}

func Failure(message string) ConnectionState {
	return ConnectionState{Kind: StateError, Message: message}
}

type Endpoint struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Port is one session's connection. State streams are never closed by the
// port; consumers stop reading when their own context ends.
type Port interface {
	Advertise(ctx context.Context, localName string) (<-chan ConnectionState, error)
	Discover(ctx context.Context, found func(Endpoint)) (<-chan ConnectionState, error)
	Connect(ctx context.Context, endpointID, localName string) (<-chan ConnectionState, error)
	Send(ctx context.Context, endpointID string, payload []byte) error
	Receive() <-chan []byte
	Disconnect()
}

// Factory creates a fresh Port for every session run.
type Factory func() Port

const (
	stateBuffer = 32
	inboxBuffer = 64
)

// emit never blocks; a consumer that stopped reading loses nothing it needs.
func emit(ch chan ConnectionState, st ConnectionState) {
	select {
	case ch <- st:
	default:
	}
}
