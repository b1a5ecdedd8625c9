package preprocess

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/seqtag/seqtag/common"
	"github.com/ZanzyTHEbar/seqtag/seqtag/features"
)

// Snapshot is the persisted vocabulary state of a fitted Preprocessor.
type Snapshot struct {
	ID             uuid.UUID
	TakenAt        time.Time
	Chars          []string
	Tags           []string
	MaxCharLength  int
	ReturnCasing   bool
	ReturnFeatures bool
	ReturnChars    bool
	Features       *features.EncoderSnapshot
}

type snapshotJSON struct {
	ID             string                    `json:"id"`
	TakenAt        string                    `json:"taken_at"`
	Chars          []string                  `json:"vocab_char"`
	Tags           []string                  `json:"vocab_tag"`
	MaxCharLength  int                       `json:"max_char_length"`
	ReturnCasing   bool                      `json:"return_casing"`
	ReturnFeatures bool                      `json:"return_features"`
	ReturnChars    bool                      `json:"return_chars"`
	Features       *features.EncoderSnapshot `json:"features,omitempty"`
}

// Snapshot captures the fitted state under a fresh id.
func (p *Preprocessor) Snapshot() (*Snapshot, error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	snap := &Snapshot{
		ID:             uuid.New(),
		TakenAt:        time.Now().UTC(),
		Chars:          p.chars.Tokens(),
		Tags:           p.tags.Tokens(),
		MaxCharLength:  p.maxCharLength,
		ReturnCasing:   p.returnCasing,
		ReturnFeatures: p.returnFeatures,
		ReturnChars:    p.returnChars,
	}
	if p.features != nil {
		fs := p.features.Snapshot()
		snap.Features = &fs
	}
	return snap, nil
}

// FromSnapshot rebuilds a fitted Preprocessor.
func FromSnapshot(snap *Snapshot) (*Preprocessor, error) {
	if len(snap.Chars) < 2 || snap.Chars[PadIndex] != PadToken || snap.Chars[UnknownIndex] != UnknownToken {
		return nil, common.NewConfigurationError("vocab_char", "missing reserved entries")
	}
	if len(snap.Tags) == 0 || snap.Tags[PadIndex] != PadToken {
		return nil, common.NewConfigurationError("vocab_tag", "missing padding tag")
	}
	if snap.MaxCharLength <= 0 {
		return nil, common.NewConfigurationError("max_char_length", "must be positive, got %d", snap.MaxCharLength)
	}
	p := &Preprocessor{
		chars:          vocabularyFromTokens(snap.Chars, true),
		tags:           vocabularyFromTokens(snap.Tags, false),
		maxCharLength:  snap.MaxCharLength,
		returnCasing:   snap.ReturnCasing,
		returnFeatures: snap.ReturnFeatures,
		returnChars:    snap.ReturnChars,
		fitted:         true,
	}
	if snap.ReturnFeatures {
		if snap.Features == nil {
			return nil, common.NewConfigurationError("features", "feature channel active but no feature tables")
		}
		enc, err := features.EncoderFromSnapshot(*snap.Features)
		if err != nil {
			return nil, err
		}
		p.features = enc
		p.featureIndices = enc.Indices()
		p.featureVocab = enc.VocabularySize()
	}
	return p, nil
}

func (sn *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		ID:             sn.ID.String(),
		TakenAt:        sn.TakenAt.Format(time.RFC3339Nano),
		Chars:          sn.Chars,
		Tags:           sn.Tags,
		MaxCharLength:  sn.MaxCharLength,
		ReturnCasing:   sn.ReturnCasing,
		ReturnFeatures: sn.ReturnFeatures,
		ReturnChars:    sn.ReturnChars,
		Features:       sn.Features,
	})
}

func (sn *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := uuid.Parse(raw.ID)
	if err != nil {
		return fmt.Errorf("error parsing snapshot id: %w", err)
	}
	takenAt, err := time.Parse(time.RFC3339Nano, raw.TakenAt)
	if err != nil {
		return fmt.Errorf("error parsing snapshot time: %w", err)
	}
	*sn = Snapshot{
		ID:             id,
		TakenAt:        takenAt,
		Chars:          raw.Chars,
		Tags:           raw.Tags,
		MaxCharLength:  raw.MaxCharLength,
		ReturnCasing:   raw.ReturnCasing,
		ReturnFeatures: raw.ReturnFeatures,
		ReturnChars:    raw.ReturnChars,
		Features:       raw.Features,
	}
	return nil
}

// Save writes the preprocessor snapshot as JSON to path.
func (p *Preprocessor) Save(path string) error {
	snap, err := p.Snapshot()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshalling preprocessor: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing preprocessor: %w", err)
	}
	return nil
}

// Load reads a preprocessor snapshot written by Save.
func Load(path string) (*Preprocessor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading preprocessor: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("error unmarshalling preprocessor: %w", err)
	}
	return FromSnapshot(&snap)
}
