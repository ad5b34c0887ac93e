package main

import (
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    int
		want time.Duration
	}{
		{p: 0, want: 1},
		{p: 50, want: 5},
		{p: 99, want: 9},
		{p: 100, want: 10},
	}
	for _, tt := range tests {
		if got := percentile(samples, tt.p); got != tt.want {
			t.Fatalf("p%d: expected %d, got %d", tt.p, tt.want, got)
		}
	}
	if percentile(nil, 50) != 0 {
		t.Fatal("empty samples must yield 0")
	}
}

func TestComputeStats(t *testing.T) {
	s := computeStats(time.Second, []time.Duration{3, 1, 2}, 1)
	if s.ops != 3 || s.failures != 1 || s.p50 != 2 || s.opsPerS != 3 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if empty := computeStats(time.Second, nil, 0); empty.ops != 0 {
		t.Fatalf("unexpected stats %+v", empty)
	}
}
