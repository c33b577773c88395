// Package protocol holds the interface names, versions and opcodes of the
// Wayland core objects and the zway_cooler_keybindings extension, shared by
// the server implementation and the client runtime.
package protocol

// Core interfaces.
const (
	DisplayInterface  = "wl_display"
	RegistryInterface = "wl_registry"
	CallbackInterface = "wl_callback"
)

// wl_display requests.
const (
	DisplaySync        uint16 = 0
	DisplayGetRegistry uint16 = 1
)

// wl_display events.
const (
	DisplayError    uint16 = 0
	DisplayDeleteID uint16 = 1
)

// wl_registry.
const (
	RegistryBind         uint16 = 0 // request
	RegistryGlobal       uint16 = 0 // event
	RegistryGlobalRemove uint16 = 1 // event
)

// wl_callback events.
const CallbackDone uint16 = 0

// zway_cooler_keybindings: global hotkeys delivered before normal routing.
const (
	KeybindingsInterface        = "zway_cooler_keybindings"
	KeybindingsVersion   uint32 = 1

	// Requests.
	KeybindingsRegisterKey uint16 = 0 // register_key(key: uint, mods: uint)
	KeybindingsClearKeys   uint16 = 1 // clear_keys()

	// Events.
	KeybindingsKey uint16 = 0 // key(time: uint, key: uint, state: uint, mods: uint)
)

// KeyState is the state argument of the key event.
type KeyState uint32

const (
	KeyStateReleased KeyState = 0
	KeyStatePressed  KeyState = 1
)

// KeyStateFor maps a pressed flag to a KeyState.
func KeyStateFor(pressed bool) KeyState {
	if pressed {
		return KeyStatePressed
	}
	return KeyStateReleased
}

func (s KeyState) String() string {
	switch s {
	case KeyStatePressed:
		return "pressed"
	case KeyStateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// KeyEvent is the payload of zway_cooler_keybindings.key.
type KeyEvent struct {
	Time  uint32   `json:"time"`
	Key   uint32   `json:"key"`
	State KeyState `json:"state"`
	Mods  uint32   `json:"mods"`
}

// Modifier mask bits as reported by xkb for the core modifiers.
const (
	ModShift   uint32 = 1 << 0
	ModLock    uint32 = 1 << 1
	ModControl uint32 = 1 << 2
	ModMod1    uint32 = 1 << 3
	ModMod2    uint32 = 1 << 4
	ModMod3    uint32 = 1 << 5
	ModMod4    uint32 = 1 << 6
	ModMod5    uint32 = 1 << 7
	ModAny     uint32 = 1 << 15
)

// ModifierNames maps config names to mask bits.
var ModifierNames = map[string]uint32{
	"shift":   ModShift,
	"lock":    ModLock,
	"control": ModControl,
	"mod1":    ModMod1,
	"mod2":    ModMod2,
	"mod3":    ModMod3,
	"mod4":    ModMod4,
	"mod5":    ModMod5,
	"any":     ModAny,
	"ctrl":    ModControl,
	"alt":     ModMod1,
	"logo":    ModMod4,
}
