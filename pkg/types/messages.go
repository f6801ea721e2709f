package types

import (
	"strconv"
	"strings"
)

// Server -> Client
// TELLRAW|PLACERSERVER|text
// HIDE_IMAGE|PLACERSERVER|
// SET_POSITION|PLACERSERVER|x|y|user
// KILL_LOG|PLACERSERVER|attacker|victim   (no names clears the log)
// OBJECT|PLACERSERVER|kind|x|y|w|h|id
// OBJECT_MODIFY|PLACERSERVER|kind|x|y|w|h|id
// OBJECT_DESTROY|PLACERSERVER|id
// TOUCH_SENSOR|PLACERSERVER|0/1
// DISABLE_BREAKING|PLACERSERVER|0/1
//
// Client -> Server
// name|x|y|skin|dir|id|PLAYER_INFO
// PLAYER_MESSAGE|PLACERCLIENT|user|text
// DAMAGE|PLACERCLIENT|target|user
// user|x,y|TouchSensor
// user|SYNC_REQ|...

// Off-world coordinate used to despawn an entity on clients.
const despawnCoord = -999

func server(kind string, fields ...string) string {
	return kind + Sep + OriginServer + Sep + strings.Join(fields, Sep)
}

func itoa(v int) string { return strconv.Itoa(v) }

func Tellraw(text string) string { return server("TELLRAW", text) }

func HideImage() string { return server("HIDE_IMAGE") }

func SetPosition(x, y int, user string) string {
	return server("SET_POSITION", itoa(x), itoa(y), user)
}

func KillLog(names ...string) string { return server("KILL_LOG", names...) }

func ObjectSpawn(kind, x, y, w, h int, id string) string {
	return server("OBJECT", itoa(kind), itoa(x), itoa(y), itoa(w), itoa(h), id)
}

func ObjectModify(kind, x, y, w, h int, id string) string {
	return server("OBJECT_MODIFY", itoa(kind), itoa(x), itoa(y), itoa(w), itoa(h), id)
}

func ObjectDestroy(id string) string { return server("OBJECT_DESTROY", id) }

func TouchSensor(on bool) string { return server("TOUCH_SENSOR", flag(on)) }

func DisableBreaking(on bool) string { return server("DISABLE_BREAKING", flag(on)) }

// PlayerInfoFrame renders a positional-state frame for an entity.
func PlayerInfoFrame(name string, x, y int, skin string, dir, id int) string {
	return strings.Join([]string{name, itoa(x), itoa(y), skin, itoa(dir), itoa(id), KindPlayerInfo}, Sep)
}

// Despawn moves an entity off-world for every client that receives it.
func Despawn(name string) string {
	return PlayerInfoFrame(name, despawnCoord, despawnCoord, "Default", 0, 0)
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
