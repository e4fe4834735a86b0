package core

import (
	"reflect"

	"github.com/encodeous/weft/state"
)

func Get[T state.MeshModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}
