package usecase

import (
	"context"
	"errors"
	"testing"
)

func TestTranscriptExporterAppliesRulesAndCopies(t *testing.T) {
	t.Parallel()

	clipboard := &fakeClipboard{}
	exporter := newTranscriptExporter(&fakeRules{transform: "Hello, world."}, clipboard)

	text, err := exporter.Export(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if text != "Hello, world." || clipboard.lastText != "Hello, world." {
		t.Fatalf("unexpected export: %q / %q", text, clipboard.lastText)
	}
}

func TestTranscriptExporterEmptyTranscript(t *testing.T) {
	t.Parallel()

	clipboard := &fakeClipboard{}
	exporter := newTranscriptExporter(nil, clipboard)

	if _, err := exporter.Export(context.Background(), "   "); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
	if clipboard.lastText != "" {
		t.Fatalf("clipboard should be untouched")
	}
}

func TestTranscriptExporterRulesFailure(t *testing.T) {
	t.Parallel()

	rulesErr := errors.New("no fixpoint")
	exporter := newTranscriptExporter(&fakeRules{err: rulesErr}, &fakeClipboard{})

	if _, err := exporter.Export(context.Background(), "hello"); !errors.Is(err, rulesErr) {
		t.Fatalf("expected wrapped rules error, got %v", err)
	}
}

func TestTranscriptExporterClipboardFailureKeepsText(t *testing.T) {
	t.Parallel()

	clipboardErr := errors.New("no display")
	exporter := newTranscriptExporter(nil, &fakeClipboard{err: clipboardErr})

	text, err := exporter.Export(context.Background(), "hello world")
	if !errors.Is(err, clipboardErr) {
		t.Fatalf("expected clipboard error, got %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text should still be returned, got %q", text)
	}

	if _, err := newTranscriptExporter(nil, nil).Export(context.Background(), "hello"); err == nil {
		t.Fatalf("expected missing clipboard error")
	}
}
