package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	counts map[string]int
}

func (f *fakeSource) UserCounts() map[string]int {
	return f.counts
}

func TestCollectorCollect(t *testing.T) {
	src := &fakeSource{counts: map[string]int{"vless-in": 3, "trojan-in": 1}}
	c := NewCollector(src)

	c.collect()

	assert.Equal(t, 2.0, testutil.ToFloat64(TrackedInbounds))
	assert.Equal(t, 3.0, testutil.ToFloat64(TrackedUsers.WithLabelValues("vless-in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(TrackedUsers.WithLabelValues("trojan-in")))

	// Dropped inbounds disappear from the vector
	src.counts = map[string]int{"vless-in": 2}
	c.collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(TrackedInbounds))
	assert.Equal(t, 1, testutil.CollectAndCount(TrackedUsers))
}
