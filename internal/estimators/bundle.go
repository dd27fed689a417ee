package estimators

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/aegisshield/ml-workbench/internal/models"
)

// Bundle is the persisted form of a fitted model
type Bundle struct {
	TaskType  models.TaskType
	ModelType string
	Features  []string
	Target    string
	// Labels decodes classifier outputs; nil for other tasks
	Labels    *LabelEncoder
	Model     any
	CreatedAt time.Time
}

// Marshal gob-encodes the bundle
func (b *Bundle) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, fmt.Errorf("failed to encode bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBundle decodes a bundle written by Marshal
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	return &b, nil
}
