package model

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// objectIDLength is the byte length of a ledger object id.
const objectIDLength = 32

// Reference identifies the model an inference run executes against.
// LayerDimensions is optional; decomposed runs need one positive entry per layer.
type Reference struct {
	ID              string   `json:"id"`
	TotalLayers     int      `json:"total_layers"`
	Scale           uint64   `json:"scale"`
	LayerDimensions []uint64 `json:"layer_dimensions,omitempty"`
}

// ReferenceFromObject derives a reference from query-service metadata.
func ReferenceFromObject(o *Object) Reference {
	return Reference{
		ID:              o.ID,
		TotalLayers:     len(o.Layers()),
		Scale:           uint64(o.Scale),
		LayerDimensions: o.LayerDimensions(),
	}
}

// Validate checks the reference is usable for submission.
func (r Reference) Validate() error {
	if r.ID == "" {
		return errors.ConfigInvalid.Explain("Model reference is missing.")
	}
	if err := ValidateObjectID(r.ID); err != nil {
		return err
	}
	if r.TotalLayers <= 0 {
		return errors.ConfigInvalid.Explain("Model %s has no layers.", r.ID)
	}
	return nil
}

// ValidateObjectID checks id is 0x-prefixed hex of at most 32 bytes.
func ValidateObjectID(id string) error {
	// Short ids such as 0x2 are valid; pad to whole bytes before decoding.
	padded := id
	if len(id) > 2 && len(id)%2 == 1 {
		padded = "0x0" + id[2:]
	}
	raw, err := hexutil.Decode(padded)
	if err != nil {
		return errors.ConfigInvalid.Explain("invalid object id %q", id).Wrap(err)
	}
	if len(raw) == 0 || len(raw) > objectIDLength {
		return errors.ConfigInvalid.Explain("object id %q must be 1 to %d bytes", id, objectIDLength)
	}
	return nil
}

// DimensionsValid reports whether dims has one positive entry per layer.
func DimensionsValid(dims []uint64, totalLayers int) bool {
	if totalLayers <= 0 || len(dims) != totalLayers {
		return false
	}
	for _, d := range dims {
		if d == 0 {
			return false
		}
	}
	return true
}
