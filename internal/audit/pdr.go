// Package audit records Process Decision Records for journaled solves and fingerprints
// problems.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/jobshop/internal/models"
	"github.com/fentz26/jobshop/internal/store"
)

// Actions recorded by the batch scheduler and the CLI.
const (
	ActionSubmit   = "run.submit"
	ActionDispatch = "run.dispatch"
	ActionComplete = "run.complete"
	ActionFail     = "run.fail"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store *store.Store
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s *store.Store) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a state-mutating action on a run.
func (w *PDRWriter) Record(ctx context.Context, action string, inputs any, outcome, runID, details string) (*models.PDREntry, error) {
	return w.store.WritePDR(ctx, action, hashInputs(inputs), outcome, runID, details)
}

// Fingerprint returns a stable hash of a problem's content. Problems that encode to the
// same JSON share a fingerprint.
func Fingerprint(p *models.Problem) string {
	return hashInputs(p)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
