package link

import (
	"encoding/json"
	"errors"
	"fmt"

	"fleet-dashboard/internal/render"
)

// Inbound command types sent by a map surface.
const (
	CmdLogin         = "login"
	CmdLogout        = "logout"
	CmdSelect        = "select"
	CmdWindow        = "window"
	CmdPinToggle     = "pin.toggle"
	CmdClick         = "click"
	CmdPinName       = "pin.name"
	CmdPinCancel     = "pin.cancel"
	CmdPlacesRefresh = "places.refresh"
	CmdStopsRefresh  = "stops.refresh"
)

// Outbound message types.
const (
	TypeScene  = "scene"
	TypeNotice = "notice"
	TypeError  = "error"
)

// Command is one JSON message from a map surface. Only the fields of its
// type are set.
type Command struct {
	Type string `json:"type"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// VehicleID nil deselects.
	VehicleID *int64 `json:"vehicle_id,omitempty"`
	Hours     int    `json:"hours,omitempty"`

	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
	Name string   `json:"name,omitempty"`
}

func DecodeCommand(b []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(b, &cmd); err != nil {
		return Command{}, fmt.Errorf("link: bad command: %w", err)
	}
	if cmd.Type == "" {
		return Command{}, errors.New("link: command without type")
	}
	return cmd, nil
}

// NoticeLevel tells the surface how to show a notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

type Notice struct {
	Level NoticeLevel `json:"level"`
	Text  string      `json:"text"`
}

// Message is one JSON message to a map surface.
type Message struct {
	Type   string        `json:"type"`
	Scene  *render.Scene `json:"scene,omitempty"`
	Notice *Notice       `json:"notice,omitempty"`
	// Error answers the command that failed; Command names its type.
	Error   string `json:"error,omitempty"`
	Command string `json:"command,omitempty"`
}

func SceneMessage(sc render.Scene) Message { return Message{Type: TypeScene, Scene: &sc} }

func NoticeMessage(level NoticeLevel, text string) Message {
	return Message{Type: TypeNotice, Notice: &Notice{Level: level, Text: text}}
}

func ErrorMessage(command string, err error) Message {
	return Message{Type: TypeError, Command: command, Error: err.Error()}
}
