package storage

import (
	"os"
	"path/filepath"
	"testing"

	"receipts/internal"
)

func TestFileStoreDedupe(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	store := NewFileStore(dir, false)

	if store.Exists("a.pdf") {
		t.Fatal("file should not exist yet")
	}
	path, err := store.Write("a.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "a.pdf") {
		t.Fatalf("path=%s", path)
	}
	if !store.Exists("a.pdf") {
		t.Fatal("written file must count as processed")
	}

	forced := NewFileStore(dir, true)
	if forced.Exists("a.pdf") {
		t.Fatal("force overwrite must ignore existing files")
	}
	if _, err := forced.Write("a.pdf", []byte("new")); err != nil {
		t.Fatal(err)
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != "new" {
		t.Fatalf("content=%q", blob)
	}
}

func TestJournalRoundTrip(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "journal", "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	runID, err := db.StartRun(internal.ModeExpenses, `SINCE 1-May-2019`)
	if err != nil {
		t.Fatal(err)
	}

	outcomes := []internal.Outcome{
		{Server: "work", Handler: "bvg", MessageID: "abc@bvg.de", Subject: "Ihre Bestellung", Status: internal.OutcomeSaved, File: "x.pdf"},
		{Server: "work", MessageID: "zzz@example.com", Status: internal.OutcomeUnhandled, Detail: "no vendor rule"},
	}
	for _, o := range outcomes {
		if err := db.RecordOutcome(runID, o); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.FinishRun(runID, map[string]int{"saved": 1, "unhandled": 1}); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListOutcomes(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0] != outcomes[0] || got[1] != outcomes[1] {
		t.Fatalf("unexpected outcomes: %+v", got)
	}

	counts, err := db.RunCounts(runID)
	if err != nil {
		t.Fatal(err)
	}
	if counts["saved"] != 1 || counts["unhandled"] != 1 {
		t.Fatalf("counts=%v", counts)
	}
}

func TestRawArchiveStoresOnce(t *testing.T) {
	archive := NewRawArchive(filepath.Join(t.TempDir(), "raw"))

	first, err := archive.Store([]byte("Subject: hi\r\n\r\nbody"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := archive.Store([]byte("Subject: hi\r\n\r\nbody"))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("same content stored twice: %s %s", first, second)
	}
	if filepath.Ext(first) != ".eml" {
		t.Fatalf("path=%s", first)
	}

	entries, err := os.ReadDir(archive.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
}
