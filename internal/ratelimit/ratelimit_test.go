package ratelimit

import "testing"

func TestCheckLimitAllowsUpToLimit(t *testing.T) {
	l := New(10)
	for i := 0; i < 10; i++ {
		allowed, err := l.CheckLimit("1.2.3.4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	allowed, err := l.CheckLimit("1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("11th request within the window should be denied")
	}
}

func TestCheckLimitPerKeyIsolated(t *testing.T) {
	l := New(1)
	if allowed, _ := l.CheckLimit("a"); !allowed {
		t.Fatal("first hit for key a should be allowed")
	}
	if allowed, _ := l.CheckLimit("b"); !allowed {
		t.Fatal("first hit for key b should be allowed regardless of key a's state")
	}
}

func TestNilLimiterAlwaysAllows(t *testing.T) {
	var l *Limiter
	allowed, err := l.CheckLimit("anything")
	if err != nil || !allowed {
		t.Fatalf("nil limiter must always allow, got allowed=%v err=%v", allowed, err)
	}
}

func TestResetClearsWindow(t *testing.T) {
	l := New(1)
	l.CheckLimit("k")
	if allowed, _ := l.CheckLimit("k"); allowed {
		t.Fatal("second hit should be denied before reset")
	}
	l.Reset("k")
	if allowed, _ := l.CheckLimit("k"); !allowed {
		t.Fatal("hit after reset should be allowed")
	}
}

func TestTokenBucketCheckLimitAllowsUpToBurst(t *testing.T) {
	var b Checker = NewTokenBucket(0.001, 3)
	for i := 0; i < 3; i++ {
		allowed, err := b.CheckLimit("1.2.3.4")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	allowed, err := b.CheckLimit("1.2.3.4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("request past burst with a near-zero refill rate should be denied")
	}
}

func TestTokenBucketCheckLimitPerKeyIsolated(t *testing.T) {
	b := NewTokenBucket(0.001, 1)
	if allowed, _ := b.CheckLimit("a"); !allowed {
		t.Fatal("first hit for key a should be allowed")
	}
	if allowed, _ := b.CheckLimit("b"); !allowed {
		t.Fatal("first hit for key b should be allowed regardless of key a's state")
	}
}
