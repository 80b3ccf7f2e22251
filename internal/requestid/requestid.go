// Package requestid generates the four documented ID families — response,
// chat-completion, tool-call, job — each from its own monotonically
// increasing counter so that, within one process, the sequences never
// collide. No pack dependency specifically owns "four independent
// monotonic counters with distinct prefixes"; this is standard-library-only
// (sync/atomic) plumbing.
package requestid

import (
	"fmt"
	"sync/atomic"
)

// Generator produces zero-padded, prefixed, monotonically non-decreasing IDs
// for each of the four families. The zero value is ready to use (all
// counters start at 1).
type Generator struct {
	resp    atomic.Uint64
	chatCpl atomic.Uint64
	call    atomic.Uint64
	job     atomic.Uint64
}

// New returns a ready-to-use Generator.
func New() *Generator { return &Generator{} }

// Response produces the next "resp_NNNNNNNN" id.
func (g *Generator) Response() string { return format("resp_", g.resp.Add(1)) }

// ChatCompletion produces the next "chatcmpl_NNNNNNNN" id.
func (g *Generator) ChatCompletion() string { return format("chatcmpl_", g.chatCpl.Add(1)) }

// ToolCall produces the next "call_NNNNNNNN" id.
func (g *Generator) ToolCall() string { return format("call_", g.call.Add(1)) }

// Job produces the next "job_NNNN" id, matching the ^job_\d{4}$ format used
// for both JobRecord.id and ExecutionContext.job_id.
func (g *Generator) Job() string {
	n := g.job.Add(1)
	return fmt.Sprintf("job_%04d", n)
}

// SeedJob sets the job counter so the next call returns at least next,
// used by JobStore hydration to resume numbering after the highest id found
// on disk.
func (g *Generator) SeedJob(next uint64) {
	for {
		cur := g.job.Load()
		if cur >= next-1 {
			return
		}
		if g.job.CompareAndSwap(cur, next-1) {
			return
		}
	}
}

func format(prefix string, n uint64) string {
	return fmt.Sprintf("%s%08d", prefix, n)
}
