// Marquee - Live Event Viewing Sessions and Watch-Together Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/marquee

package websocket

import (
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// Message types for WebSocket communication
const (
	MessageTypeJoin         = "join"
	MessageTypeLeave        = "leave"
	MessageTypePlaybackSync = "playbackSync"
	MessageTypeViewerCount  = "viewerCount"
	MessageTypeError        = "error"
)

// Message is a server frame. Data is a struct payload whose fields are
// written next to type:
//
//	{"type":"viewerCount","eventId":"e1","count":3}
type Message struct {
	Type string
	Data interface{}
}

// MarshalJSON flattens Data into the frame.
func (m Message) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if m.Data != nil {
		raw, err := json.Marshal(m.Data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%s payload is not an object: %w", m.Type, err)
		}
	}
	typ, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// ViewerCountData is sent with viewerCount frames.
type ViewerCountData struct {
	EventID string `json:"eventId"`
	Count   int    `json:"count"`
}

// PlaybackSyncData is the payload of playbackSync frames in both directions.
type PlaybackSyncData struct {
	Position float64 `json:"position"`
	DeviceID string  `json:"deviceId"`
}

// ErrorData is sent with error frames.
type ErrorData struct {
	Message string `json:"message"`
}

// MemberData is the payload of join and leave frames.
type MemberData struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// ClientMessage is a decoded client frame: JoinMessage, LeaveMessage or
// PlaybackSyncMessage.
type ClientMessage interface {
	messageType() string
}

// JoinMessage registers the connection in its event's room.
type JoinMessage struct{ MemberData }

// LeaveMessage removes the connection from its room.
type LeaveMessage struct{ MemberData }

// PlaybackSyncMessage reports the sender's playback position.
type PlaybackSyncMessage struct{ PlaybackSyncData }

func (JoinMessage) messageType() string         { return MessageTypeJoin }
func (LeaveMessage) messageType() string        { return MessageTypeLeave }
func (PlaybackSyncMessage) messageType() string { return MessageTypePlaybackSync }

var errMalformed = errors.New("malformed message")

// clientFrame accepts both the flat shape, {"type":"join","userId":"u1"},
// and the older {"type":"join","data":{...}} envelope.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type clientPayload struct {
	UserID   string   `json:"userId"`
	DeviceID string   `json:"deviceId"`
	Position *float64 `json:"position"`
}

// DecodeClientMessage parses a client frame.
func DecodeClientMessage(raw []byte) (ClientMessage, error) {
	var f clientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}
	body := raw
	if len(f.Data) > 0 && string(f.Data) != "null" {
		body = f.Data
	}
	var p clientPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	switch f.Type {
	case MessageTypeJoin:
		return JoinMessage{MemberData{UserID: p.UserID, DeviceID: p.DeviceID}}, nil
	case MessageTypeLeave:
		return LeaveMessage{MemberData{UserID: p.UserID, DeviceID: p.DeviceID}}, nil
	case MessageTypePlaybackSync:
		if p.Position == nil {
			return nil, fmt.Errorf("%w: missing position", errMalformed)
		}
		pos := *p.Position
		if math.IsNaN(pos) || math.IsInf(pos, 0) || pos < 0 {
			return nil, fmt.Errorf("%w: position must be a non-negative number", errMalformed)
		}
		return PlaybackSyncMessage{PlaybackSyncData{Position: pos, DeviceID: p.DeviceID}}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", errMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errMalformed, f.Type)
	}
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func viewerCountMessage(eventID string, count int) Message {
	return Message{Type: MessageTypeViewerCount, Data: ViewerCountData{EventID: eventID, Count: count}}
}

func playbackMessage(position float64, deviceID string) Message {
	return Message{Type: MessageTypePlaybackSync, Data: PlaybackSyncData{Position: position, DeviceID: deviceID}}
}

func errorMessage(text string) Message {
	return Message{Type: MessageTypeError, Data: ErrorData{Message: text}}
}
