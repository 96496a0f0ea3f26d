package shim

import (
	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/pkg/flameapi"
)

func unsupportedKind(kind flameapi.ShimKind) error {
	return flerr.InvalidArgumentf("shim: no factory registered for kind %q", kind)
}
