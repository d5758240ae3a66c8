package watcher

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pathwatch/internal/backend"
)

func TestEventRecordCarriesStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	record := Event{Op: OpAdd, Path: "a.txt", Info: info, Time: time.Now()}.Record()
	if record.Size == nil || *record.Size != 5 || record.ModTime == nil || record.IsDir {
		t.Fatalf("unexpected record %+v", record)
	}

	unlink := Event{Op: OpUnlink, Path: "a.txt"}.Record()
	if unlink.Size != nil || unlink.ModTime != nil {
		t.Fatal("expected unlink without stats")
	}
}

func TestEventJSON(t *testing.T) {
	raw := &backend.RawEvent{Path: "/w/a", Kind: backend.KindModify, Op: "write"}
	payload, err := json.Marshal(Event{Op: OpRaw, Path: "a", Raw: raw})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	text := string(payload)
	for _, fragment := range []string{`"op":"raw"`, `"path":"a"`, `"label":"write"`} {
		if !strings.Contains(text, fragment) {
			t.Fatalf("expected %s in %s", fragment, text)
		}
	}
	if strings.Contains(text, `"size"`) {
		t.Fatalf("unexpected size in %s", text)
	}

	payload, err = json.Marshal(Event{Op: OpError, Err: errors.New("boom")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"error":"boom"`) {
		t.Fatalf("expected error text in %s", payload)
	}
}
