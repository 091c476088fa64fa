package registry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShardedPath(t *testing.T) {
	cases := map[string]string{
		"a":      "1/a",
		"ab":     "2/ab",
		"abc":    "3/a/abc",
		"abcd":   "ab/cd/abcd",
		"serde":  "se/rd/serde",
		"abcdef": "ab/cd/abcdef",
	}
	for name, want := range cases {
		if got := shardedPath(name); got != want {
			t.Errorf("shardedPath(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestContainsVersion(t *testing.T) {
	raw := []byte(`{"name":"foo","vers":"1.0.0","yanked":false}
{"name":"foo","vers":"1.1.0","yanked":true}
not json at all
{"name":"foo","vers":"1.2.0","yanked":false}
`)
	ok, err := containsVersion(raw, "1.0.0")
	if err != nil || !ok {
		t.Fatalf("expected 1.0.0 present, got ok=%v err=%v", ok, err)
	}
	ok, err = containsVersion(raw, "1.1.0")
	if err != nil || ok {
		t.Fatalf("yanked version should not count as present, got ok=%v err=%v", ok, err)
	}
	ok, err = containsVersion(raw, "9.9.9")
	if err != nil || ok {
		t.Fatalf("expected absent version to be absent, got ok=%v err=%v", ok, err)
	}
}

func TestNewSelectsIndexKind(t *testing.T) {
	idx, err := New("sparse+https://index.example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := idx.(*HTTPIndex); !ok {
		t.Fatalf("expected *HTTPIndex for sparse+ URL, got %T", idx)
	}
}

type stubIndex struct {
	contains bool
	err      error
	calls    int
}

func (s *stubIndex) Contains(ctx context.Context, name, version string) (bool, error) {
	s.calls++
	return s.contains, s.err
}

func TestFallbackIndexUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubIndex{contains: true}
	fallback := &stubIndex{contains: false}
	idx := NewFallbackIndex(primary, fallback)

	ok, err := idx.Contains(context.Background(), "foo", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("expected true from primary, got ok=%v err=%v", ok, err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback should not be queried while primary is healthy, got %d calls", fallback.calls)
	}
}

func TestFallbackIndexPromotesFallbackOnPrimaryError(t *testing.T) {
	primary := &stubIndex{err: errors.New("primary down")}
	fallback := &stubIndex{contains: true}
	idx := NewFallbackIndex(primary, fallback)

	ok, err := idx.Contains(context.Background(), "foo", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("expected fallback to answer true, got ok=%v err=%v", ok, err)
	}

	// second call should go straight to fallback without touching primary again.
	primary.err = errors.New("still down")
	_, err = idx.Contains(context.Background(), "foo", "1.0.0")
	if err != nil {
		t.Fatalf("unexpected error on promoted fallback call: %v", err)
	}
	if primary.calls != 1 {
		t.Fatalf("expected primary to be queried only once before promotion, got %d calls", primary.calls)
	}
}

func TestFallbackIndexReturnsCombinedErrorWhenBothFail(t *testing.T) {
	primary := &stubIndex{err: errors.New("primary down")}
	fallback := &stubIndex{err: errors.New("fallback down")}
	idx := NewFallbackIndex(primary, fallback)

	_, err := idx.Contains(context.Background(), "foo", "1.0.0")
	if err == nil {
		t.Fatal("expected an error when both indexes fail")
	}
}

func TestWaitSucceedsOnceIndexReportsPresent(t *testing.T) {
	idx := &stubIndex{contains: false}
	go func() {
		time.Sleep(5 * time.Millisecond)
		idx.contains = true
	}()
	err := Wait(context.Background(), idx, "foo", "1.0.0", WaitOptions{
		Timeout:  time.Second,
		Interval: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("expected Wait to succeed, got %v", err)
	}
}

func TestWaitTimesOut(t *testing.T) {
	idx := &stubIndex{contains: false}
	err := Wait(context.Background(), idx, "foo", "1.0.0", WaitOptions{
		Timeout:  10 * time.Millisecond,
		Interval: 2 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
