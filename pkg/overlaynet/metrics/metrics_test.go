package metrics

import (
	"testing"
	"time"
)

func ms(v float64) *float64 { return &v }

func TestRecordLatencyUpdatesStatus(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "Player One")

	c.RecordLatency("p1", ms(50))
	summary, ok := c.PeerSummary("p1")
	if !ok || summary.Status != StatusConnected {
		t.Fatalf("summary = %+v, want connected", summary)
	}

	c.RecordLatency("p1", ms(250))
	summary, _ = c.PeerSummary("p1")
	if summary.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded above 200ms", summary.Status)
	}

	c.RecordLatency("p1", nil)
	summary, _ = c.PeerSummary("p1")
	if summary.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded with no sample", summary.Status)
	}
}

func TestRecordLatencyIgnoresUnknownPeer(t *testing.T) {
	c := New(nil)
	c.RecordLatency("ghost", ms(10))
	if _, ok := c.PeerSummary("ghost"); ok {
		t.Fatal("expected no summary for an untracked peer")
	}
}

func TestPeerSummaryAggregatesLatencyStats(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "")
	for _, v := range []float64{10, 20, 30} {
		c.RecordLatency("p1", ms(v))
	}

	summary, _ := c.PeerSummary("p1")
	if *summary.AverageLatencyMs != 20 {
		t.Fatalf("average = %v, want 20", *summary.AverageLatencyMs)
	}
	if *summary.MinLatencyMs != 10 || *summary.MaxLatencyMs != 30 {
		t.Fatalf("min/max = %v/%v, want 10/30", *summary.MinLatencyMs, *summary.MaxLatencyMs)
	}
	if *summary.CurrentLatencyMs != 30 {
		t.Fatalf("current = %v, want 30 (latest sample)", *summary.CurrentLatencyMs)
	}
}

func TestLatencyWindowIsBounded(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "")
	for i := 0; i < maxSamples+50; i++ {
		c.RecordLatency("p1", ms(float64(i)))
	}

	c.mu.RLock()
	n := len(c.peers["p1"].latency)
	c.mu.RUnlock()
	if n != maxSamples {
		t.Fatalf("window size = %d, want %d", n, maxSamples)
	}
}

func TestRecordBandwidthAccumulates(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "")
	c.RecordBandwidth("p1", 100, 50, 2, 1)
	c.RecordBandwidth("p1", 100, 50, 2, 1)

	summary, _ := c.PeerSummary("p1")
	if summary.BytesSent != 200 || summary.BytesReceived != 100 {
		t.Fatalf("bytes = %d/%d, want 200/100", summary.BytesSent, summary.BytesReceived)
	}
	if summary.PacketsSent != 4 || summary.PacketsReceived != 2 {
		t.Fatalf("packets = %d/%d, want 4/2", summary.PacketsSent, summary.PacketsReceived)
	}
}

func TestRemovePeerMarksDisconnectedWithoutDroppingHistory(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "")
	c.RecordLatency("p1", ms(10))
	c.RemovePeer("p1")

	summary, ok := c.PeerSummary("p1")
	if !ok {
		t.Fatal("expected history to be retained")
	}
	if summary.Status != StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", summary.Status)
	}
	if summary.AverageLatencyMs == nil {
		t.Fatal("expected latency history to survive removal")
	}
}

func TestSessionAggregatesPeerLatency(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "")
	c.AddPeer("p2", "")
	c.RecordLatency("p1", ms(10))
	c.RecordLatency("p2", ms(30))

	c.StartSession("game-1", "Arena", []string{"p1", "p2"})
	c.EndSession()

	sessions := c.Sessions(10)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.AvgLatencyMs == nil || *s.AvgLatencyMs != 20 {
		t.Fatalf("avg latency = %v, want 20", s.AvgLatencyMs)
	}
	if s.MinLatencyMs == nil || *s.MinLatencyMs != 10 {
		t.Fatalf("min latency = %v, want 10", s.MinLatencyMs)
	}
	if s.MaxLatencyMs == nil || *s.MaxLatencyMs != 30 {
		t.Fatalf("max latency = %v, want 30", s.MaxLatencyMs)
	}
	if s.EndedAt.Before(s.StartedAt) {
		t.Fatal("ended_at should not precede started_at")
	}
}

func TestEndSessionWithoutActiveSessionIsNoop(t *testing.T) {
	c := New(nil)
	c.EndSession()
	if len(c.Sessions(10)) != 0 {
		t.Fatal("expected no sessions recorded")
	}
}

func TestSessionHistoryIsBounded(t *testing.T) {
	c := New(nil)
	for i := 0; i < maxSessions+10; i++ {
		c.StartSession("g", "n", nil)
		c.EndSession()
	}
	if len(c.Sessions(maxSessions+10)) != maxSessions {
		t.Fatalf("session count = %d, want %d", len(c.Sessions(maxSessions+10)), maxSessions)
	}
}

func TestNetworkQualityScoreWithNoSamplesIsPerfect(t *testing.T) {
	c := New(nil)
	if score := c.NetworkQualityScore(); score != 100.0 {
		t.Fatalf("score = %v, want 100 with no samples", score)
	}
}

func TestNetworkQualityScoreReflectsLatencyAndCPU(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "")
	c.RecordLatency("p1", ms(100)) // latency_score = 100 - 100/5 = 80
	c.RecordCPUPercent(20)         // cpu_score = 100 - 20 = 80

	score := c.NetworkQualityScore()
	if score != 80 {
		t.Fatalf("score = %v, want 80", score)
	}
}

func TestNetworkQualityScoreNeverNegative(t *testing.T) {
	c := New(nil)
	c.AddPeer("p1", "")
	c.RecordLatency("p1", ms(10000))
	c.RecordCPUPercent(100)

	score := c.NetworkQualityScore()
	if score < 0 {
		t.Fatalf("score = %v, should never go negative", score)
	}
}

func TestCollectorUsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(nil)
	c.now = func() time.Time { return fixed }
	c.AddPeer("p1", "")

	summary, _ := c.PeerSummary("p1")
	if !summary.LastSeen.Equal(fixed) {
		t.Fatalf("LastSeen = %v, want %v", summary.LastSeen, fixed)
	}
}
