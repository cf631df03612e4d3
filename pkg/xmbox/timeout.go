package xmbox

import (
	"time"

	"github.com/pkg/errors"
)

// RTO is the bound of one timed wait.
func (mb *Mailbox) RTO() time.Duration { return mb.rto }

// SetRTO replaces the RTO and returns the previous one.
func (mb *Mailbox) SetRTO(d time.Duration) (time.Duration, error) {
	if d <= 0 {
		return mb.rto, errors.Wrapf(ErrInvalidTimeout, "rto=%v", d)
	}
	old := mb.rto
	mb.rto = d
	return old, nil
}

// TimeoutSettings splits the RTO into whole seconds and nanoseconds.
func (mb *Mailbox) TimeoutSettings() (sec, nsec int64) {
	return int64(mb.rto / time.Second), int64(mb.rto % time.Second)
}

func (mb *Mailbox) SetTimeoutSettings(sec, nsec int64) error {
	if sec < 0 || nsec < 0 || nsec >= int64(time.Second) {
		return errors.Wrapf(ErrInvalidTimeout, "sec=%d nsec=%d", sec, nsec)
	}
	_, err := mb.SetRTO(time.Duration(sec)*time.Second + time.Duration(nsec))
	return err
}

// SetRTOSeconds replaces the seconds part and returns the previous one.
func (mb *Mailbox) SetRTOSeconds(sec int64) (int64, error) {
	oldSec, nsec := mb.TimeoutSettings()
	if err := mb.SetTimeoutSettings(sec, nsec); err != nil {
		return oldSec, err
	}
	return oldSec, nil
}

// SetRTONanoseconds replaces the nanoseconds part and returns the previous one.
func (mb *Mailbox) SetRTONanoseconds(nsec int64) (int64, error) {
	sec, oldNsec := mb.TimeoutSettings()
	if err := mb.SetTimeoutSettings(sec, nsec); err != nil {
		return oldNsec, err
	}
	return oldNsec, nil
}

func (mb *Mailbox) BaseTTL() int { return mb.baseTTL }

// SetBaseTTL replaces the acknowledgement budget and returns the previous one.
func (mb *Mailbox) SetBaseTTL(ttl int) (int, error) {
	if ttl <= 0 {
		return mb.baseTTL, errors.Wrapf(ErrInvalidSettings, "base_ttl=%d", ttl)
	}
	old := mb.baseTTL
	mb.baseTTL = ttl
	return old, nil
}
