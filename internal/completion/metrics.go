package completion

import (
	"sync"
	"time"
)

// Summary describes a finished session.
type Summary struct {
	Text             string
	Usage            Usage // sum of each turn's final usage
	Turns            int
	ToolCalls        int
	TimeFirstTokenMs int64
	TimeCompletionMs int64
	ToolStatuses     []ToolStatus
}

// tracker stamps chunks with elapsed time and accumulates the summary.
// Elapsed never decreases even if the clock does.
type tracker struct {
	mu         sync.Mutex
	now        func() time.Time
	start      time.Time
	elapsed    int64
	firstToken int64
	firstSet   bool
	statuses   []ToolStatus
	summary    Summary
}

func newTracker(now func() time.Time) *tracker {
	return &tracker{now: now, start: now()}
}

func (t *tracker) stamp() int64 {
	ms := t.now().Sub(t.start).Milliseconds()
	if ms < t.elapsed {
		ms = t.elapsed
	}
	t.elapsed = ms
	return ms
}

// markFirstToken records the time to first token. Only the first call counts.
func (t *tracker) markFirstToken() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstSet {
		return
	}
	t.firstToken = t.stamp()
	t.firstSet = true
}

// metrics returns the metrics for a chunk created now.
func (t *tracker) metrics(completionTokens int) Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Metrics{
		CompletionTokens: completionTokens,
		TimeCompletionMs: t.stamp(),
		TimeFirstTokenMs: t.firstToken,
	}
}

// endTurn adds the final usage of one model turn.
func (t *tracker) endTurn(final Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Turns++
	t.summary.Usage = t.summary.Usage.add(final)
}

func (t *tracker) toolCall() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.ToolCalls++
}

func (t *tracker) appendText(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.Text += text
}

// upsertStatus records a tool status and returns a snapshot of all
// statuses of the session.
func (t *tracker) upsertStatus(status ToolStatus) []ToolStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses = UpsertToolStatus(t.statuses, status)
	return append([]ToolStatus(nil), t.statuses...)
}

// statusSnapshot returns a copy of the statuses, or nil if there are none.
func (t *tracker) statusSnapshot() []ToolStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.statuses) == 0 {
		return nil
	}
	return append([]ToolStatus(nil), t.statuses...)
}

func (t *tracker) finish() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.summary
	s.TimeFirstTokenMs = t.firstToken
	s.TimeCompletionMs = t.stamp()
	if len(t.statuses) > 0 {
		s.ToolStatuses = append([]ToolStatus(nil), t.statuses...)
	}
	return s
}
