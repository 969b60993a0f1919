package core

// ReclaimOption selects how much a reclaim takes. The set of options is
// closed: only ReclaimAll and ReclaimAmount implement it.
type ReclaimOption interface {
	isReclaimOption()
}

// ReclaimAll takes the member's whole score.
type ReclaimAll struct{}

// ReclaimAmount takes up to N points.
type ReclaimAmount struct{ N int64 }

func (ReclaimAll) isReclaimOption()    {}
func (ReclaimAmount) isReclaimOption() {}

// ValidateReclaim rejects amounts a caller must never submit.
func ValidateReclaim(opt ReclaimOption) error {
	switch o := opt.(type) {
	case ReclaimAll:
		return nil
	case ReclaimAmount:
		if o.N <= 0 {
			return InvalidArgumentf("reclaim amount must be greater than 0, got %d", o.N)
		}
		return nil
	default:
		return Unreachablef("unknown reclaim option %T", opt)
	}
}

// Debit returns min(current, requested) for opt, never below zero.
func Debit(opt ReclaimOption, current int64) (int64, error) {
	if err := ValidateReclaim(opt); err != nil {
		return 0, err
	}
	if current <= 0 {
		return 0, nil
	}
	requested := current
	if o, ok := opt.(ReclaimAmount); ok {
		requested = o.N
	}
	return min(current, requested), nil
}

