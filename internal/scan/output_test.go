package scan

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestFileSinkWritesOneLinePerHit is spec.md §8 scenario 1 (smoke
// scan): a single confirmed hit must produce exactly one dotted-quad
// line in the output file.
func TestFileSinkWritesOneLinePerHit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	hits := make(chan net.IP, 1)
	die := newDieSignal()

	done := make(chan error, 1)
	go func() { done <- sink.run(hits, die) }()

	hits <- net.IPv4(127, 0, 0, 1)
	time.Sleep(50 * time.Millisecond)
	die.die()

	if err := <-done; err != nil {
		t.Fatalf("sink.run returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "127.0.0.1\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", data, want)
	}
}

func TestFileSinkAppendsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	for _, ip := range []string{"127.0.0.1", "192.0.2.1"} {
		sink, err := NewFileSink(path)
		if err != nil {
			t.Fatalf("NewFileSink: %v", err)
		}
		hits := make(chan net.IP, 1)
		die := newDieSignal()
		done := make(chan error, 1)
		go func() { done <- sink.run(hits, die) }()

		hits <- net.ParseIP(ip)
		time.Sleep(50 * time.Millisecond)
		die.die()
		if err := <-done; err != nil {
			t.Fatalf("sink.run: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "127.0.0.1\n192.0.2.1\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", data, want)
	}
}
