// Package rpc holds the error translation shared by the Frontend and
// Backend services. The hand-written ServiceDescs live in the
// backendproto, frontendproto and shimproto packages (§6.4).
package rpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flamerun/flame/internal/flerr"
)

// Status translates a *flerr.Error (or any error) into a gRPC status error
// carrying the wire code for its kind (§7 error kinds, §9 RPC error
// contract). The Frontend and Backend servers do not call it: their
// handlers' errors reach the gRPC transport untranslated.
func Status(err error) error {
	if err == nil {
		return nil
	}
	var fe *flerr.Error
	if !errors.As(err, &fe) {
		return status.Error(codes.Internal, err.Error())
	}
	return status.Error(codeFor(fe.Kind), fe.Error())
}

func codeFor(kind flerr.Kind) codes.Code {
	switch kind {
	case flerr.NotFound:
		return codes.NotFound
	case flerr.InvalidArgument:
		return codes.InvalidArgument
	case flerr.InvalidState:
		return codes.FailedPrecondition
	case flerr.Conflict:
		return codes.AlreadyExists
	case flerr.Storage:
		return codes.Internal
	case flerr.Transport:
		return codes.Unavailable
	case flerr.ShimRefused:
		return codes.FailedPrecondition
	case flerr.ShimTransport:
		return codes.Unavailable
	case flerr.UserError:
		return codes.Aborted
	case flerr.Unavailable:
		return codes.Unavailable
	case flerr.Cancelled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}
