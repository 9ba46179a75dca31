//go:build (windows || unix) && (amd64 || 386)

package hook

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/0xffffa/gohooker/trampoline"
)

// Hook is an installed patch.
type Hook struct {
	Patch

	tramp trampoline.Region
}

// New diverts the function at src to dst. Calling Trampoline afterwards runs
// the original function. Threads must not be executing the first bytes of src
// while New runs. Only mapped pages are read, so a function ending right
// before an unmapped page can still be hooked if it is long enough.
func New(src, dst uintptr, opts ...trampoline.Option) (*Hook, error) {
	r := trampoline.NewRelocator(trampoline.Native(), opts...)

	tramp, err := allocTrampoline(src, trampolineSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate trampoline")
	}

	n := readableWindow(src, entryWindow, uintptr(os.Getpagesize()), pageMapped)
	patch, err := Plan(r, trampoline.LiveRegion(src, n), dst, tramp)
	if err != nil {
		release(r, tramp)
		return nil, err
	}

	if err := writeMemory(src, patch.Jumper); err != nil {
		release(r, tramp)
		return nil, errors.Wrap(err, "failed to apply jump")
	}

	r.Logger().Debug("hook installed",
		"src", fmt.Sprintf("%#x", src), "dst", fmt.Sprintf("%#x", dst),
		"trampoline", fmt.Sprintf("%#x", tramp.Addr), "overwrite", patch.Overwrite)
	return &Hook{Patch: *patch, tramp: tramp}, nil
}

// release frees a trampoline that was never handed out. The caller already
// has an error to report, so a failure here is only logged.
func release(r *trampoline.Relocator, tramp trampoline.Region) {
	if err := freeTrampoline(tramp); err != nil {
		r.Logger().Warn("trampoline leaked", "addr", fmt.Sprintf("%#x", tramp.Addr), "err", err)
	}
}

// Unhook restores the original entry point and releases the trampoline. The
// trampoline must not be running. If the release fails the hook keeps the
// trampoline and Unhook may be called again.
func (h *Hook) Unhook() error {
	if h.tramp.Code == nil {
		return nil
	}
	if err := writeMemory(h.Src, h.Original); err != nil {
		return errors.Wrap(err, "failed to restore entry point")
	}
	if err := freeTrampoline(h.tramp); err != nil {
		return errors.Wrap(err, "failed to release trampoline")
	}
	h.tramp = trampoline.Region{}
	return nil
}
