package types

import (
	"errors"
	"strconv"
	"strings"
)

// Handle identifies one live client connection.
type Handle string

// Frame field separator.
const Sep = "|"

// Origin tags carried in field 1 of client and server frames.
const (
	OriginClient = "PLACERCLIENT"
	OriginServer = "PLACERSERVER"
)

// Frame kinds recognized on the inbound path.
const (
	KindPlayerInfo    = "PLAYER_INFO"
	KindPlayerMessage = "PLAYER_MESSAGE"
	KindDamage        = "DAMAGE"
	KindTouch         = "TouchSensor"
	KindSyncReq       = "SYNC_REQ"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one pipe-delimited text message.
type Frame struct {
	Raw   string
	Parts []string
}

func Parse(raw string) Frame {
	return Frame{Raw: raw, Parts: strings.Split(raw, Sep)}
}

// Field returns the i-th field or "" when absent.
func (f Frame) Field(i int) string {
	if i < 0 || i >= len(f.Parts) {
		return ""
	}
	return f.Parts[i]
}

func (f Frame) IsPlayerInfo() bool {
	return len(f.Parts) >= 7 && f.Parts[6] == KindPlayerInfo
}

func (f Frame) IsPlayerMessage() bool {
	return len(f.Parts) >= 4 && f.Parts[0] == KindPlayerMessage
}

func (f Frame) IsDamage() bool {
	return len(f.Parts) == 4 && f.Parts[0] == KindDamage && f.Parts[1] == OriginClient
}

func (f Frame) IsTouch() bool {
	return len(f.Parts) >= 3 && f.Parts[2] == KindTouch
}

func (f Frame) IsSyncReq() bool {
	return len(f.Parts) >= 3 && f.Parts[1] == KindSyncReq
}

// Subject returns the identity a frame describes or was sent by, when the
// frame grammar carries one.
func (f Frame) Subject() (string, bool) {
	var s string
	switch {
	case f.IsPlayerInfo(), f.IsTouch(), f.IsSyncReq():
		s = f.Parts[0]
	case f.IsPlayerMessage():
		s = f.Parts[2]
	case f.IsDamage():
		s = f.Parts[3]
	}
	if s == "" {
		return "", false
	}
	return s, true
}

// Position is the last known location of an entity.
type Position struct {
	X         float64
	Y         float64
	Direction int
}

// PlayerInfo is the decoded form of a PLAYER_INFO frame.
type PlayerInfo struct {
	Name string
	Position
	Skin string
}

func ParsePlayerInfo(f Frame) (PlayerInfo, error) {
	if !f.IsPlayerInfo() {
		return PlayerInfo{}, ErrMalformedFrame
	}
	x, err := strconv.Atoi(f.Parts[1])
	if err != nil {
		return PlayerInfo{}, ErrMalformedFrame
	}
	y, err := strconv.Atoi(f.Parts[2])
	if err != nil {
		return PlayerInfo{}, ErrMalformedFrame
	}
	dir, err := strconv.Atoi(f.Parts[4])
	if err != nil {
		dir = 0
	}
	return PlayerInfo{
		Name:     f.Parts[0],
		Position: Position{X: float64(x), Y: float64(y), Direction: dir},
		Skin:     f.Parts[3],
	}, nil
}

// ParseTouch decodes the "x,y" coordinates of a TouchSensor frame.
func ParseTouch(f Frame) (x, y float64, err error) {
	if !f.IsTouch() {
		return 0, 0, ErrMalformedFrame
	}
	coords := strings.Split(f.Parts[1], ",")
	if len(coords) < 2 {
		return 0, 0, ErrMalformedFrame
	}
	if x, err = strconv.ParseFloat(coords[0], 64); err != nil {
		return 0, 0, ErrMalformedFrame
	}
	if y, err = strconv.ParseFloat(coords[1], 64); err != nil {
		return 0, 0, ErrMalformedFrame
	}
	return x, y, nil
}
