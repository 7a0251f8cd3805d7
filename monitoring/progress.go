package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar tracks how many scripted actions of a run have been played.
type ProgressBar struct {
	lock sync.Mutex

	id        string
	name      string
	startTime time.Time
	total     uint64
	finished  uint64
	failed    uint64
}

// progressRsp is the JSON form of a ProgressBar.
type progressRsp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"start_time"`
	Total     uint64    `json:"total"`
	Finished  uint64    `json:"finished"`
	Failed    uint64    `json:"failed"`
}

// ID returns the identifier the monitor assigned to the bar.
func (b *ProgressBar) ID() string {
	return b.id
}

// Record counts one played action. A rejected action is finished and failed.
func (b *ProgressBar) Record(failed bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.finished++
	if failed {
		b.failed++
	}
}

// Remaining returns the number of actions not played yet.
func (b *ProgressBar) Remaining() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.finished >= b.total {
		return 0
	}

	return b.total - b.finished
}

func (b *ProgressBar) snapshot() progressRsp {
	b.lock.Lock()
	defer b.lock.Unlock()

	return progressRsp{
		ID:        b.id,
		Name:      b.name,
		StartTime: b.startTime,
		Total:     b.total,
		Finished:  b.finished,
		Failed:    b.failed,
	}
}
