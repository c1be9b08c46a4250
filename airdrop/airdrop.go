package airdrop

import (
	"time"
)

type Rules struct {
	dropTime time.Time
	note     string
	timeNow  func() time.Time
}

func New(dropTime time.Time, note string) *Rules {
	return &Rules{dropTime: dropTime.UTC(), note: note, timeNow: time.Now}
}

func (r *Rules) DropTime() time.Time {
	return r.dropTime
}

func (r *Rules) Note() string {
	return r.note
}

func (r *Rules) Started() bool {
	return !r.timeNow().UTC().Before(r.dropTime)
}

// TimeTillDrop is rounded down to whole seconds, zero once the drop has started.
func (r *Rules) TimeTillDrop() time.Duration {
	now := r.timeNow().UTC()
	if !now.Before(r.dropTime) {
		return time.Duration(0)
	}
	return r.dropTime.Sub(now).Truncate(time.Second)
}
