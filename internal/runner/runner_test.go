package runner

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func shell(script string) Command {
	return Command{Program: "sh", Args: []string{"-c", script}}
}

func collect(e *Execution) []Chunk {
	var chunks []Chunk
	for c := range e.Chunks() {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestCapturesBothStreams(t *testing.T) {
	e, err := Start(t.Context(), shell(`echo out-line; echo err-line 1>&2`))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	chunks := collect(e)
	outcome := e.Wait()

	if outcome.ExitCode != 0 || outcome.Err != nil {
		t.Fatalf("outcome = %+v, want clean exit", outcome)
	}

	var sawOut, sawErr bool
	for _, c := range chunks {
		if c.Stream == StreamStdout && c.Text == "out-line" {
			sawOut = true
		}
		if c.Stream == StreamStderr && c.Text == "err-line" {
			sawErr = true
		}
		if c.Time.IsZero() {
			t.Fatal("chunk missing timestamp")
		}
	}
	if !sawOut || !sawErr {
		t.Fatalf("missing stream output: stdout=%v stderr=%v chunks=%v", sawOut, sawErr, chunks)
	}
}

func TestPerStreamOrderPreserved(t *testing.T) {
	e, err := Start(t.Context(), shell(`for i in $(seq 1 50); do echo "line $i"; done`))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	chunks := collect(e)
	e.Wait()

	next := 1
	for _, c := range chunks {
		if c.Stream != StreamStdout {
			continue
		}
		want := fmt.Sprintf("line %d", next)
		if c.Text != want {
			t.Fatalf("stdout order broken: got %q, want %q", c.Text, want)
		}
		next++
	}
	if next != 51 {
		t.Fatalf("received %d stdout lines, want 50", next-1)
	}
}

func TestNonZeroExit(t *testing.T) {
	e, err := Start(t.Context(), shell(`echo failing; exit 3`))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	collect(e)
	outcome := e.Wait()

	if outcome.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", outcome.ExitCode)
	}
	if outcome.Err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", outcome.Err)
	}
	if outcome.Cancelled {
		t.Fatal("non-zero exit should not be marked cancelled")
	}
}

func TestLaunchFailure(t *testing.T) {
	_, err := Start(t.Context(), Command{Program: "no-such-binary-45af"})
	if err == nil {
		t.Fatal("Start should fail for a missing program")
	}
}

func TestBadWorkingDirectory(t *testing.T) {
	_, err := Start(t.Context(), Command{Program: "sh", Args: []string{"-c", "true"}, Dir: "/no/such/dir"})
	if err == nil {
		t.Fatal("Start should fail for a missing working directory")
	}
}

func TestNoChunksAfterWait(t *testing.T) {
	e, err := Start(t.Context(), shell(`echo a; echo b`))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Drain concurrently the way the orchestrator does.
	drained := make(chan []Chunk, 1)
	go func() { drained <- collect(e) }()

	e.Wait()

	// The channel must already be closed once Wait returns.
	select {
	case _, open := <-e.Chunks():
		if open {
			t.Fatal("chunk delivered after Wait returned")
		}
	default:
		t.Fatal("chunk channel still open after Wait returned")
	}

	if got := <-drained; len(got) != 2 {
		t.Fatalf("drained %d chunks, want 2", len(got))
	}
}

func TestCancelKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	e, err := Start(ctx, Command{
		Program:     "sh",
		Args:        []string{"-c", "sleep 30"},
		GracePeriod: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	done := make(chan Outcome, 1)
	go func() {
		collect(e)
		done <- e.Wait()
	}()

	select {
	case outcome := <-done:
		if !outcome.Cancelled {
			t.Fatalf("outcome = %+v, want Cancelled", outcome)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("cancelled process did not terminate")
	}
}

func TestDeadlineCancels(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 150*time.Millisecond)
	defer cancel()

	e, err := Start(ctx, Command{Program: "sh", Args: []string{"-c", "sleep 30"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	collect(e)
	outcome := e.Wait()
	if !outcome.Cancelled {
		t.Fatalf("outcome = %+v, want Cancelled via deadline", outcome)
	}
}

func TestLongLineSurvives(t *testing.T) {
	// 200 KB fits the grown scanner buffer and must arrive intact.
	e, err := Start(t.Context(), shell(`head -c 200000 /dev/zero | tr '\0' 'x'; echo`))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	chunks := collect(e)
	e.Wait()

	found := false
	for _, c := range chunks {
		if len(c.Text) == 200000 && strings.Count(c.Text, "x") == 200000 {
			found = true
		}
	}
	if !found {
		t.Fatalf("long line not delivered intact (%d chunks)", len(chunks))
	}
}
