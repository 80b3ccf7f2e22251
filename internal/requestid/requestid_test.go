package requestid

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFamiliesDoNotCollide(t *testing.T) {
	g := New()
	const n = 200
	seen := make(map[string]bool, n*4)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(4)
		go func() { defer wg.Done(); id := g.Response(); mu.Lock(); seen[id] = true; mu.Unlock() }()
		go func() { defer wg.Done(); id := g.ChatCompletion(); mu.Lock(); seen[id] = true; mu.Unlock() }()
		go func() { defer wg.Done(); id := g.ToolCall(); mu.Lock(); seen[id] = true; mu.Unlock() }()
		go func() { defer wg.Done(); id := g.Job(); mu.Lock(); seen[id] = true; mu.Unlock() }()
	}
	wg.Wait()
	require.Len(t, seen, n*4)
}

func TestJobFormat(t *testing.T) {
	g := New()
	require.Regexp(t, regexp.MustCompile(`^job_\d{4}$`), g.Job())
}

func TestSeedJob(t *testing.T) {
	g := New()
	g.SeedJob(43)
	require.Equal(t, "job_0043", g.Job())
	require.Equal(t, "job_0044", g.Job())
}
