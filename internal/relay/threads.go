package relay

import (
	"fmt"
	"sync"
	"time"
)

type threadRecord struct {
	mu        sync.Mutex
	threadID  string
	startedAt time.Time
}

// ThreadTracker remembers the most recent thread per channel so alerts that
// arrive close together land in one conversation. The channel set is fixed at
// construction; each channel locks independently.
type ThreadTracker struct {
	timeout time.Duration
	records map[string]*threadRecord
}

// NewThreadTracker creates records for channels. A non-positive timeout selects DefaultThreadTimeout.
func NewThreadTracker(timeout time.Duration, channels ...string) *ThreadTracker {
	if timeout <= 0 {
		timeout = DefaultThreadTimeout
	}
	t := &ThreadTracker{
		timeout: timeout,
		records: make(map[string]*threadRecord, len(channels)),
	}
	for _, ch := range channels {
		t.records[ch] = &threadRecord{}
	}
	return t
}

// Get returns the channel's last thread if it started no more than the timeout before now.
func (t *ThreadTracker) Get(channel string, now time.Time) (string, bool, error) {
	rec, err := t.record(channel)
	if err != nil {
		return "", false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.threadID == "" || now.Sub(rec.startedAt) > t.timeout {
		return "", false, nil
	}
	return rec.threadID, true, nil
}

// Set records threadID as the channel's current thread, started at now.
func (t *ThreadTracker) Set(channel, threadID string, now time.Time) error {
	rec, err := t.record(channel)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.threadID = threadID
	rec.startedAt = now
	return nil
}

func (t *ThreadTracker) record(channel string) (*threadRecord, error) {
	rec, ok := t.records[channel]
	if !ok {
		return nil, fmt.Errorf("%w: no thread record for %q", ErrUnknownChannel, channel)
	}
	return rec, nil
}
