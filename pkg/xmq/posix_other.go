//go:build !linux

package xmq

import (
	"context"

	"github.com/pkg/errors"
)

// Posix is registered on every platform so configuration stays portable;
// outside Linux every operation reports ErrUnsupported.
var Posix = &PosixBackend{}

func init() {
	Register(Posix)
}

type PosixBackend struct{}

func (b *PosixBackend) Name() string { return "posix" }

func (b *PosixBackend) Open(ctx context.Context, name string, mode Mode, attr Attr) (Queue, error) {
	return nil, errors.Wrapf(ErrUnsupported, "open %s", name)
}

func (b *PosixBackend) Unlink(name string) error {
	return errors.Wrapf(ErrUnsupported, "unlink %s", name)
}

func (b *PosixBackend) Claim(name string) (func(), error) {
	return nil, errors.Wrapf(ErrUnsupported, "claim %s", name)
}
