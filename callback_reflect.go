package reactio

import "reflect"

// funcsEqual compares two Callback values by the address of the function
// they point to. Go disallows == on func values directly; comparing the
// underlying code pointer via reflect is the standard workaround and is
// sufficient here since listeners are always registered as named
// functions, methods, or closures held by the caller (never reconstructed
// inline at Remove time from an equivalent-but-distinct closure).
func funcsEqual(a, b Callback) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
