package tx

import (
	"io"

	"github.com/goccy/go-yaml"
	jsoniter "github.com/json-iterator/go"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/pkg/errors"
)

// file is the YAML form of a transaction. Output data is free-form YAML and
// is stored as its JSON encoding.
//
//	inputs: [3]
//	outputs:
//	  - linear_id: 0b5d6f7e-...
//	    participants: [alice, bob]
//	    schema: iou
//	    data:
//	      value: 10
type file struct {
	ID      string       `yaml:"id"`
	Inputs  []uint64     `yaml:"inputs"`
	Outputs []outputFile `yaml:"outputs"`
}

type outputFile struct {
	LinearID     string      `yaml:"linear_id"`
	Participants []string    `yaml:"participants"`
	Schema       string      `yaml:"schema"`
	Data         interface{} `yaml:"data"`
}

// ParseTransaction reads a transaction from its YAML form.
func ParseTransaction(r io.Reader) (*api.Transaction, error) {
	var f file
	if err := yaml.NewDecoder(r, yaml.DisallowUnknownField()).Decode(&f); err != nil {
		return nil, err
	}
	if len(f.Inputs) == 0 && len(f.Outputs) == 0 {
		return nil, errors.New("transaction has no inputs and no outputs")
	}

	t := &api.Transaction{
		ID:     f.ID,
		Inputs: f.Inputs,
	}
	for i, o := range f.Outputs {
		state := &api.LinearState{
			LinearID:     o.LinearID,
			Participants: o.Participants,
			Payload:      api.Payload{Schema: o.Schema},
		}
		if o.Data != nil {
			data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(o.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "output %d", i)
			}
			state.Payload.Data = data
		}
		t.Outputs = append(t.Outputs, state)
	}
	return t, nil
}
