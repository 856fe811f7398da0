package model

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"stock-prediction-lab/internal/domain"
)

// Artifact is a serialized trained-model snapshot. The envelope carries the
// architecture tag plus the configuration used to build the topology; Payload
// is the gob-encoded variant state. load(save(m)) reproduces m's predictions
// exactly on the same input.
type Artifact struct {
	Architecture    string
	Hyperparameters domain.Hyperparameters
	FeatureConfig   domain.FeatureConfig
	Payload         []byte
}

// Encode serializes the artifact to bytes for blob storage.
func (a *Artifact) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeArtifact is the inverse of Encode.
func DecodeArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, nil
}

func encodePayload(state any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, fmt.Errorf("encode model state: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte, state any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(state); err != nil {
		return fmt.Errorf("decode model state: %w", err)
	}
	return nil
}
