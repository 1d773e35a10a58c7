package keyregistry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmetrica/analytics-vault-backend/interfaces"
)

// RekeyCandidate describes one artifact a new recipient still needs access
// to. It carries the encryption parameters and the existing grants so a
// privileged client holding one of the prior private keys can unwrap the
// data key and re-wrap it for the new recipient.
type RekeyCandidate struct {
	ArtifactID interfaces.ArtifactID           `json:"artifact_id"`
	Encryption interfaces.EncryptionInfo       `json:"encryption"`
	Entries    []*interfaces.RecipientKeyEntry `json:"entries"`
}

// RekeyedKey is one client-submitted grant: the artifact's data key wrapped
// for the new recipient.
type RekeyedKey struct {
	WrappedDataKey  []byte `json:"wrapped_data_key"`
	EphemeralPubkey []byte `json:"ephemeral_pubkey"`
}

// RekeyStatus classifies the per-artifact outcome of a rekey submission.
type RekeyStatus string

const (
	RekeyGranted        RekeyStatus = "granted"
	RekeyAlreadyGranted RekeyStatus = "already-granted"
	RekeyRejected       RekeyStatus = "rejected"
)

// RekeyResult is the outcome for one artifact of a submission batch.
type RekeyResult struct {
	Status RekeyStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

// ListNeedingRekey returns every completed encrypted artifact of the
// application that has no entry for the given recipient key yet. Prior
// entries are included verbatim so the rekeying client can pick any key it
// holds to unwrap from.
func (r *Registry) ListNeedingRekey(ctx context.Context, appID string, newKey interfaces.KeyID) ([]RekeyCandidate, error) {
	artifacts, err := r.meta.ArtifactsByApp(ctx, appID)
	if err != nil {
		return nil, err
	}

	var candidates []RekeyCandidate
	for _, artifact := range artifacts {
		if !artifact.Completed || !artifact.Encryption.Encrypted() {
			continue
		}

		existing, err := r.meta.RecipientEntry(ctx, artifact.ID, newKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}

		entries, err := r.meta.RecipientEntries(ctx, artifact.ID)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, RekeyCandidate{
			ArtifactID: artifact.ID,
			Encryption: artifact.Encryption,
			Entries:    entries,
		})
	}
	return candidates, nil
}

// SubmitRekeyedKeys persists client-wrapped data keys for the new recipient.
// Each artifact is handled independently: a failure on one never rolls back
// grants already written for another, and grants are append-only so prior
// recipients keep their entries byte for byte. The returned map has one
// result per submitted artifact.
func (r *Registry) SubmitRekeyedKeys(ctx context.Context, appID string, newKey interfaces.KeyID, keys map[interfaces.ArtifactID]RekeyedKey) (map[interfaces.ArtifactID]RekeyResult, error) {
	results := make(map[interfaces.ArtifactID]RekeyResult, len(keys))

	for artifactID, wrapped := range keys {
		results[artifactID] = r.applyRekeyedKey(ctx, appID, newKey, artifactID, wrapped)
	}
	return results, nil
}

func (r *Registry) applyRekeyedKey(ctx context.Context, appID string, newKey interfaces.KeyID, artifactID interfaces.ArtifactID, wrapped RekeyedKey) RekeyResult {
	if len(wrapped.WrappedDataKey) == 0 {
		return RekeyResult{Status: RekeyRejected, Reason: "empty wrapped data key"}
	}

	artifact, err := r.meta.ArtifactByID(ctx, artifactID)
	if err != nil {
		return RekeyResult{Status: RekeyRejected, Reason: "unknown artifact"}
	}
	if artifact.AppID != appID {
		return RekeyResult{Status: RekeyRejected, Reason: "artifact does not belong to application"}
	}
	if !artifact.Completed || !artifact.Encryption.Encrypted() {
		return RekeyResult{Status: RekeyRejected, Reason: "artifact is not rekeyable"}
	}

	entry := &interfaces.RecipientKeyEntry{
		ArtifactID:      artifactID,
		RecipientKeyID:  newKey,
		Mode:            artifact.Encryption.Mode,
		WrappedDataKey:  wrapped.WrappedDataKey,
		EphemeralPubkey: wrapped.EphemeralPubkey,
	}
	if err := r.meta.AddRecipientEntry(ctx, entry); err != nil {
		if errors.Is(err, interfaces.ErrRekeyAlreadyGranted) {
			return RekeyResult{Status: RekeyAlreadyGranted}
		}
		r.log.Error("failed to persist rekeyed data key",
			"artifact_id", artifactID.String(), "recipient_key_id", newKey.String(), slog.Any("err", err))
		return RekeyResult{Status: RekeyRejected, Reason: "storage failure"}
	}

	r.log.Info("granted artifact access to new recipient",
		"artifact_id", artifactID.String(), "recipient_key_id", newKey.String())
	return RekeyResult{Status: RekeyGranted}
}
