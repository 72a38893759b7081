package sandbox

import (
	"bytes"
	"io"
	"sync"

	appErr "emc/pkg/errors"
)

func validateRunSpec(rs RunSpec) error {
	if rs.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	if rs.WorkDir == "" {
		return appErr.ValidationError("work_dir", "required")
	}
	if rs.Command == "" {
		return appErr.ValidationError("command", "required")
	}
	return nil
}

// cappedBuffer keeps the first max bytes of output and drops the rest.
type cappedBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	max  int64
	over bool
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.max - int64(b.buf.Len())
	if room <= 0 {
		b.over = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.over = true
		b.buf.Write(p[:room])
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Truncated reports whether any output was dropped.
func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.over
}

var _ io.Writer = (*cappedBuffer)(nil)
