package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaCountExceeded   = errors.New("quota count exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	Count   uint32
	EpochID uint64
}

// Quota defines a per-address cap on module interactions within an epoch.
// A zero MaxPerEpoch disables the check.
type Quota struct {
	MaxPerEpoch  uint32
	EpochSeconds uint32
}

// Enabled reports whether the quota imposes any limit.
func (q Quota) Enabled() bool {
	return q.MaxPerEpoch > 0 && q.EpochSeconds > 0
}

// Epoch returns the epoch identifier for the supplied unix timestamp.
func (q Quota) Epoch(now int64) uint64 {
	if q.EpochSeconds == 0 || now <= 0 {
		return 0
	}
	return uint64(now) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional usage fits within the configured
// quota. The returned QuotaNow reflects the updated counters when the quota is
// not exceeded; on failure the previous counters are returned untouched.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, add uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if add > 0 {
		if next.Count > math.MaxUint32-add {
			return prev, ErrQuotaCounterOverflow
		}
		next.Count += add
	}
	if q.MaxPerEpoch > 0 && next.Count > q.MaxPerEpoch {
		return prev, ErrQuotaCountExceeded
	}

	return next, nil
}
