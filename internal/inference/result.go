package inference

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/opengraphlabs/layerinfer/internal/model"
	"github.com/opengraphlabs/layerinfer/internal/signed"
)

// LayerStatus is the outcome of one layer.
type LayerStatus string

const (
	LayerSuccess    LayerStatus = "success"
	LayerError      LayerStatus = "error"
	LayerProcessing LayerStatus = "processing"
)

// LayerResult records one layer's computation. It is not modified after being appended to a
// snapshot.
type LayerResult struct {
	LayerIdx     int              `json:"layer_idx"`
	Input        signed.Vector    `json:"input"`
	Output       signed.Vector    `json:"output"`
	Activation   model.Activation `json:"activation_type"`
	ArgmaxIdx    *int             `json:"argmax_idx,omitempty"`
	TxDigest     string           `json:"tx_digest,omitempty"`
	Status       LayerStatus      `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Snapshot is the observable state of a driver: everything a presentation layer renders.
type Snapshot struct {
	Generation   uint64        `json:"generation"`
	Mode         Mode          `json:"mode"`
	State        State         `json:"state"`
	Input        string        `json:"input"`
	Parsed       signed.Vector `json:"parsed"`
	CurrentLayer int           `json:"current_layer"`
	TotalLayers  int           `json:"total_layers"`
	Results      []LayerResult `json:"results"`
	Status       Status        `json:"status"`
	Busy         bool          `json:"busy"`
	TxDigest     string        `json:"tx_digest,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	s.Results = append([]LayerResult(nil), s.Results...)
	return s
}

// Final returns the last successful layer result when the run completed.
func (s Snapshot) Final() (LayerResult, bool) {
	if s.State != StateCompleted || len(s.Results) == 0 {
		return LayerResult{}, false
	}
	return s.Results[len(s.Results)-1], true
}

// Score is the relative confidence of one output class.
type Score struct {
	Index      int             `json:"index"`
	Confidence decimal.Decimal `json:"confidence"`
}

// ConfidenceScores normalizes an output vector by its largest magnitude. Negative entries score
// zero. Scores are sorted by confidence, highest first, ties by index.
func ConfidenceScores(out signed.Vector) []Score {
	maxMag := decimal.Zero
	for _, m := range out.Magnitudes {
		if m.GreaterThan(maxMag) {
			maxMag = m
		}
	}

	scores := make([]Score, out.Len())
	for i := range scores {
		conf := decimal.Zero
		if out.Signs[i] == signed.Positive && maxMag.IsPositive() {
			conf = out.Magnitudes[i].DivRound(maxMag, 4)
		}
		scores[i] = Score{Index: i, Confidence: conf}
	}
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].Confidence.GreaterThan(scores[b].Confidence)
	})
	return scores
}
