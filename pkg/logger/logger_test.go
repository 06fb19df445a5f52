package logger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]DigestEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]DigestEntry))
	return nil
}

func TestDigestFoldsRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDigest(DigestConfig{Topic: "errors", Publisher: pub})

	log := Nop()
	log.AttachDigest(d)
	assetLog := log.With(String("asset", "sscrt"))

	boom := errors.New("adapter unreachable")
	assetLog.Error("refresh failed", Error(boom))
	assetLog.Error("refresh failed", Error(boom))
	assetLog.Error("refresh failed", Error(errors.New("timeout")))
	log.Info("not digested")
	assert.Equal(t, 2, d.Pending())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	require.Len(t, pub.batches, 1)
	assert.Equal(t, "errors", pub.topic)
	batch := pub.batches[0]
	require.Len(t, batch, 2)

	counts := map[interface{}]int{}
	for _, e := range batch {
		assert.Equal(t, "refresh failed", e.Message)
		assert.Equal(t, "sscrt", e.Fields["asset"])
		counts[e.Fields["error"]] = e.Count
	}
	assert.Equal(t, 2, counts["adapter unreachable"])
	assert.Equal(t, 1, counts["timeout"])
}

func TestDigestFoldsAcrossCallSites(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDigest(DigestConfig{Topic: "errors", Publisher: pub})

	fields := map[string]interface{}{"asset": "sscrt"}
	d.Add("error", "refresh failed", fields, "usecase/rebalance.go:10")
	d.Add("error", "refresh failed", fields, "usecase/unbond.go:20")
	d.Add("error", "refresh failed", map[string]interface{}{"asset": "silk"}, "usecase/unbond.go:20")
	assert.Equal(t, 2, d.Pending())

	require.NoError(t, d.Close())
	require.Len(t, pub.batches, 1)
	folded := 0
	for _, e := range pub.batches[0] {
		if e.Fields["asset"] == "sscrt" {
			folded++
			assert.Equal(t, 2, e.Count)
			assert.Equal(t, "usecase/rebalance.go:10", e.Caller)
		}
	}
	assert.Equal(t, 1, folded)
}

func TestDigestFlushesWhenFull(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDigest(DigestConfig{Topic: "errors", MaxEntries: 2, Publisher: pub})

	d.Add("error", "a", nil, "x.go:1")
	d.Add("error", "b", nil, "x.go:2")
	assert.Equal(t, 0, d.Pending())
	d.Add("error", "c", nil, "x.go:3")

	require.NoError(t, d.Close())
	total := 0
	for _, b := range pub.batches {
		total += len(b)
	}
	assert.Equal(t, 3, total)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "debug", Format: "json", Output: "stderr", Service: "fintreasury"})
	require.NoError(t, err)
	l.Debug("ok", Int("n", 1), Bool("b", true), Strings("s", []string{"a", "b"}))
}
