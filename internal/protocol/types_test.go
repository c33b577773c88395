package protocol

import "testing"

func TestKeyStateFor(t *testing.T) {
	if got := KeyStateFor(true); got != KeyStatePressed {
		t.Errorf("KeyStateFor(true) = %v", got)
	}
	if got := KeyStateFor(false); got != KeyStateReleased {
		t.Errorf("KeyStateFor(false) = %v", got)
	}
}

func TestKeyStateString(t *testing.T) {
	tests := map[KeyState]string{
		KeyStatePressed:  "pressed",
		KeyStateReleased: "released",
		KeyState(7):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("KeyState(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestModifierNamesMatchXCBMasks(t *testing.T) {
	// Values must line up with XCB_MOD_MASK_* since clients compute masks
	// from xkb state.
	if ModifierNames["lock"] != 2 || ModifierNames["mod2"] != 16 || ModifierNames["any"] != 0x8000 {
		t.Errorf("unexpected modifier bits: %v", ModifierNames)
	}
}
