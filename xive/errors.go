package xive

import "errors"

// Construction-time configuration errors. These fail NewSource/
// NewEQSource outright; no partial state is left behind.
var (
	ErrNoIRQs         = errors.New("xive: nr_irqs must be greater than 0")
	ErrNoEQs          = errors.New("xive: nr_eqs must be greater than 0")
	ErrBadESBShift    = errors.New("xive: invalid ESB shift setting")
	ErrMissingFabric  = errors.New("xive: source has no fabric to notify")
	ErrMissingBackend = errors.New("xive: router has no storage backend")
)

// Cache-miss errors from a RouterBackend: no entry has ever been
// written for the given index. Distinct from an entry being present
// but marked invalid, which is a guest-visible condition logged
// through WarnGuestError rather than returned as a Go error.
var (
	ErrUnknownLISN = errors.New("xive: no IVE for this LISN")
	ErrUnknownEQ   = errors.New("xive: no EQ at this block/index")
	ErrUnknownVP   = errors.New("xive: no VP at this block/index")
)
