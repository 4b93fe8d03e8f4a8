package evemit

import "reflect"

func listenerPointer(fn Listener) uintptr {
	if fn == nil {
		return 0
	}
	return reflect.ValueOf(fn).Pointer()
}
