package srouter

import "errors"

// Validator accumulates frame parse errors so a ValidateSize/Validate
// method can check every field it knows about instead of returning on
// the first problem found. Each header codec type in this module
// (ethernet.Frame, arp.Frame, ipv4.Frame, icmp.Frame, tcp.Frame) exposes
// a ValidateSize(*Validator) method built on this type.
type Validator struct {
	allowMultiErrs bool
	accum          []error
}

// NewValidator returns a Validator. allowMultiErrs controls whether
// AddError keeps accumulating after the first error (true) or only
// records the first one seen (false, the default zero-value behavior).
func NewValidator(allowMultiErrs bool) Validator {
	return Validator{allowMultiErrs: allowMultiErrs}
}

// ResetErr clears all accumulated errors, readying v for another pass.
func (v *Validator) ResetErr() { v.accum = v.accum[:0] }

// HasError reports whether any error has been recorded since the last
// ResetErr.
func (v *Validator) HasError() bool { return len(v.accum) != 0 }

// AddError records err. If allowMultiErrs is false, only the first
// error recorded since the last reset is kept; panics if err is nil.
func (v *Validator) AddError(err error) {
	if err == nil {
		panic("srouter: AddError called with nil error")
	}
	if len(v.accum) != 0 && !v.allowMultiErrs {
		return
	}
	v.accum = append(v.accum, err)
}

// Err returns the accumulated error, joining multiple errors with
// errors.Join, or nil if none were recorded.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// ErrPop returns Err and resets the validator in one call, the
// idiom used at the end of every decode-then-validate sequence.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.ResetErr()
	return err
}
