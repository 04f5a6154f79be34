package runstore

import (
	"time"

	"github.com/google/uuid"

	"github.com/opengraphlabs/layerinfer/internal/inference"
	"github.com/opengraphlabs/layerinfer/internal/signed"
)

// Run is one finished inference run.
type Run struct {
	ID            uuid.UUID     `json:"id" gorm:"primaryKey;type:uuid"`
	SessionID     string        `json:"session_id" gorm:"size:64;index"`
	ModelID       string        `json:"model_id" gorm:"size:80;index"`
	Generation    uint64        `json:"generation"`
	Mode          string        `json:"mode" gorm:"size:20"`
	State         string        `json:"state" gorm:"size:20;index"`
	Input         string        `json:"input" gorm:"type:text"`
	StatusMessage string        `json:"status_message" gorm:"type:text"`
	Severity      string        `json:"severity" gorm:"size:20"`
	ErrorKind     string        `json:"error_kind,omitempty" gorm:"size:40"`
	TxDigest      string        `json:"tx_digest,omitempty" gorm:"size:100;index"`
	TotalLayers   int           `json:"total_layers"`
	FinalClass    *int          `json:"final_class,omitempty"`
	Layers        []LayerRecord `json:"layers,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// LayerRecord is the stored result of one layer.
type LayerRecord struct {
	ID           uint          `json:"-" gorm:"primaryKey;autoIncrement"`
	RunID        uuid.UUID     `json:"run_id" gorm:"type:uuid;index"`
	LayerIdx     int           `json:"layer_idx"`
	Input        signed.Vector `json:"input" gorm:"serializer:json;type:text"`
	Output       signed.Vector `json:"output" gorm:"serializer:json;type:text"`
	Activation   int           `json:"activation_type"`
	ArgmaxIdx    *int          `json:"argmax_idx,omitempty"`
	TxDigest     string        `json:"tx_digest,omitempty" gorm:"size:100"`
	Status       string        `json:"status" gorm:"size:20"`
	ErrorMessage string        `json:"error_message,omitempty" gorm:"type:text"`
}

// FromSnapshot converts a terminal driver snapshot into a Run ready to save.
func FromSnapshot(sessionID, modelID string, snap inference.Snapshot) *Run {
	run := &Run{
		ID:            uuid.New(),
		SessionID:     sessionID,
		ModelID:       modelID,
		Generation:    snap.Generation,
		Mode:          snap.Mode.String(),
		State:         string(snap.State),
		Input:         snap.Input,
		StatusMessage: snap.Status.Message,
		Severity:      string(snap.Status.Severity),
		ErrorKind:     snap.Status.Kind,
		TxDigest:      snap.TxDigest,
		TotalLayers:   snap.TotalLayers,
	}
	if final, ok := snap.Final(); ok && final.ArgmaxIdx != nil {
		class := *final.ArgmaxIdx
		run.FinalClass = &class
	}
	for _, r := range snap.Results {
		rec := LayerRecord{
			RunID:        run.ID,
			LayerIdx:     r.LayerIdx,
			Input:        r.Input,
			Output:       r.Output,
			Activation:   int(r.Activation),
			TxDigest:     r.TxDigest,
			Status:       string(r.Status),
			ErrorMessage: r.ErrorMessage,
		}
		if r.ArgmaxIdx != nil {
			idx := *r.ArgmaxIdx
			rec.ArgmaxIdx = &idx
		}
		run.Layers = append(run.Layers, rec)
	}
	return run
}
