package shared

import (
	"context"
	"sync"
	"time"
)

// NoticeLevel classifies user-facing notices.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a non-blocking message surfaced to the operator.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// Notifier delivers notices. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, notice Notice) {
	f(ctx, notice)
}

// NoticeBuffer collects notices until they are drained by the caller.
type NoticeBuffer struct {
	mu      sync.Mutex
	limit   int
	notices []Notice
}

// NewNoticeBuffer keeps at most limit notices, dropping the oldest.
func NewNoticeBuffer(limit int) *NoticeBuffer {
	if limit <= 0 {
		limit = 20
	}
	return &NoticeBuffer{limit: limit}
}

// Notify implements Notifier.
func (b *NoticeBuffer) Notify(_ context.Context, notice Notice) {
	if notice.At.IsZero() {
		notice.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, notice)
	if len(b.notices) > b.limit {
		b.notices = b.notices[len(b.notices)-b.limit:]
	}
}

// Drain returns and clears the buffered notices.
func (b *NoticeBuffer) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}
