package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCandidates_HealthyBeforeUnhealthy(t *testing.T) {
	p := NewPool(Config{Addresses: []string{"1.1.1.1:53", "2.2.2.2:53"}})

	for _, s := range p.servers {
		if s.Address == "1.1.1.1:53" {
			s.RecordFailure()
			s.RecordFailure()
			s.RecordFailure()
		}
	}

	cand := p.Candidates()
	require.Len(t, cand, 2)
	require.Equal(t, "2.2.2.2:53", cand[0].Address)
}

func TestCandidates_FasterFirst(t *testing.T) {
	p := NewPool(Config{Addresses: []string{"1.1.1.1:53", "2.2.2.2:53"}})
	for _, s := range p.servers {
		switch s.Address {
		case "1.1.1.1:53":
			s.RecordSuccess(100 * time.Millisecond)
		case "2.2.2.2:53":
			s.RecordSuccess(10 * time.Millisecond)
		}
	}

	cand := p.Candidates()
	require.Equal(t, "2.2.2.2:53", cand[0].Address)
}

func TestServer_RecoversAfterInterval(t *testing.T) {
	s := NewServer("1.1.1.1:53")
	s.RecordFailure()
	s.RecordFailure()
	s.RecordFailure()
	require.False(t, s.Healthy())

	s.mu.Lock()
	s.lastFailure = time.Now().Add(-recoveryInterval - time.Second)
	s.mu.Unlock()

	require.True(t, s.Healthy())
}
