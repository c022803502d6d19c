package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/store"
)

func TestFingerprint(t *testing.T) {
	a := &models.Problem{Name: "a", Machines: []models.Machine{{ID: "M1"}}}
	b := &models.Problem{Name: "a", Machines: []models.Machine{{ID: "M1"}}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("equal problems have different fingerprints")
	}
	b.Machines[0].Capacity = 2
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("different problems share a fingerprint")
	}
	if len(Fingerprint(a)) != 64 {
		t.Errorf("expected a hex sha256, got %q", Fingerprint(a))
	}
}

func TestRecord(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	w := NewPDRWriter(s)
	inputs := map[string]any{"run_id": "r1", "worker_id": "w1"}
	entry, err := w.Record(ctx, ActionDispatch, inputs, OutcomeSuccess, "r1", "dispatched")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if entry.InputsHash != hashInputs(inputs) {
		t.Error("inputs hash does not match")
	}

	entries, err := s.ListPDR(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != ActionDispatch {
		t.Errorf("unexpected entries %+v", entries)
	}
}
