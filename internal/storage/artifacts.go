package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/recording"
	"github.com/kozaktomas/facecam/internal/session"
)

const artifactVersion = 1

// storedArtifact is the persisted envelope. Data is base64 in JSON.
type storedArtifact struct {
	Version int `json:"version"`
	*recording.Artifact
}

// Artifacts persists the last recording under a single fixed key.
type Artifacts struct {
	kv  KV
	key string
}

// NewArtifacts creates an artifact store on kv.
func NewArtifacts(kv KV) *Artifacts {
	return &Artifacts{kv: kv, key: constants.ArtifactStorageKey}
}

// Save overwrites the stored artifact. Quota errors are returned as is,
// every other failure as a storage error.
func (a *Artifacts) Save(ctx context.Context, art *recording.Artifact) error {
	if art == nil {
		return errors.New("nil artifact")
	}
	data, err := json.Marshal(storedArtifact{Version: artifactVersion, Artifact: art})
	if err != nil {
		return session.E(session.KindStorage, "storage.SaveArtifact", "failed to encode artifact", err)
	}
	if err := a.kv.Set(ctx, a.key, data); err != nil {
		if session.IsKind(err, session.KindStorageQuota) {
			return err
		}
		return session.E(session.KindStorage, "storage.SaveArtifact", "failed to write artifact", err)
	}
	return nil
}

// Load returns the stored artifact, or nil when none was saved.
func (a *Artifacts) Load(ctx context.Context) (*recording.Artifact, error) {
	data, err := a.kv.Get(ctx, a.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, session.E(session.KindStorage, "storage.LoadArtifact", "failed to read artifact", err)
	}

	var stored storedArtifact
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, session.E(session.KindStorage, "storage.LoadArtifact", "stored artifact is corrupt", err)
	}
	if stored.Version != artifactVersion || stored.Artifact == nil {
		return nil, session.E(session.KindStorage, "storage.LoadArtifact",
			fmt.Sprintf("unsupported artifact version %d", stored.Version), nil)
	}
	return stored.Artifact, nil
}

// Delete removes the stored artifact.
func (a *Artifacts) Delete(ctx context.Context) error {
	return a.kv.Delete(ctx, a.key)
}
