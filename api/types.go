package api

import (
	"fmt"
	"strings"
	"time"
)

// Status is the consumption status of a linear state revision.
type Status int

const (
	// StatusUnconsumed marks the current revision of a linear state.
	StatusUnconsumed Status = iota
	// StatusConsumed marks a revision that was spent by a later transaction.
	StatusConsumed
)

func (s Status) String() string {
	switch s {
	case StatusUnconsumed:
		return "UNCONSUMED"
	case StatusConsumed:
		return "CONSUMED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "UNCONSUMED":
		*s = StatusUnconsumed
	case "CONSUMED":
		*s = StatusConsumed
	default:
		return fmt.Errorf("unknown status %q", string(text))
	}
	return nil
}

// Payload is the schema-defined content of a state. The store never looks
// inside Data; Schema tells a schema.Mapper how to decode it.
type Payload struct {
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
	Data   []byte `json:"data,omitempty" yaml:"data,omitempty"`
}

// Copy returns a deep copy of the payload.
func (p Payload) Copy() Payload {
	c := Payload{Schema: p.Schema}
	if p.Data != nil {
		c.Data = append([]byte(nil), p.Data...)
	}
	return c
}

// LinearState is one revision of a logical, evolving piece of shared data.
type LinearState struct {
	// LinearID is stable across all revisions of the chain.
	LinearID string `json:"linear_id" yaml:"linear_id"`
	// RevisionID is assigned by the store when the revision is produced.
	RevisionID   uint64   `json:"revision_id,omitempty" yaml:"revision_id,omitempty"`
	Participants []string `json:"participants,omitempty" yaml:"participants,omitempty"`
	Payload      Payload  `json:"payload" yaml:"payload"`
	Status       Status   `json:"status" yaml:"status"`

	// TxID and Sequence identify the producing transaction.
	TxID     string `json:"tx_id,omitempty" yaml:"tx_id,omitempty"`
	Sequence uint64 `json:"sequence,omitempty" yaml:"sequence,omitempty"`

	// ConsumedBy and ConsumedSequence are set once the revision is spent.
	ConsumedBy       string `json:"consumed_by,omitempty" yaml:"consumed_by,omitempty"`
	ConsumedSequence uint64 `json:"consumed_sequence,omitempty" yaml:"consumed_sequence,omitempty"`
}

// Copy returns a deep copy of the state.
func (s *LinearState) Copy() *LinearState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Participants != nil {
		c.Participants = append([]string(nil), s.Participants...)
	}
	c.Payload = s.Payload.Copy()
	return &c
}

// HasParticipant reports whether party is one of the state's participants.
func (s *LinearState) HasParticipant(party string) bool {
	for _, p := range s.Participants {
		if p == party {
			return true
		}
	}
	return false
}

// Transaction is an atomic state transition: it consumes Inputs and produces
// Outputs. Sequence and Timestamp are assigned at commit.
type Transaction struct {
	ID        string         `json:"id,omitempty" yaml:"id,omitempty"`
	Inputs    []uint64       `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs   []*LinearState `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Sequence  uint64         `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Copy returns a deep copy of the transaction.
func (t *Transaction) Copy() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.Inputs != nil {
		c.Inputs = append([]uint64(nil), t.Inputs...)
	}
	if t.Outputs != nil {
		c.Outputs = make([]*LinearState, len(t.Outputs))
		for i, o := range t.Outputs {
			c.Outputs[i] = o.Copy()
		}
	}
	return &c
}

// Event describes the effect of one committed transaction on the set of
// linear states.
type Event struct {
	Sequence  uint64         `json:"sequence" yaml:"sequence"`
	TxID      string         `json:"tx_id" yaml:"tx_id"`
	Produced  []*LinearState `json:"produced,omitempty" yaml:"produced,omitempty"`
	Consumed  []*LinearState `json:"consumed,omitempty" yaml:"consumed,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
}

// Copy returns a deep copy of the event.
func (e *Event) Copy() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Produced = copyStates(e.Produced)
	c.Consumed = copyStates(e.Consumed)
	return &c
}

// Project returns the part of the event whose states satisfy match, or nil
// when no state matches. A nil match selects every state.
func (e *Event) Project(match func(*LinearState) bool) *Event {
	if match == nil {
		if len(e.Produced) == 0 && len(e.Consumed) == 0 {
			return nil
		}
		return e.Copy()
	}
	p := &Event{
		Sequence:  e.Sequence,
		TxID:      e.TxID,
		Timestamp: e.Timestamp,
	}
	for _, s := range e.Produced {
		if match(s) {
			p.Produced = append(p.Produced, s.Copy())
		}
	}
	for _, s := range e.Consumed {
		if match(s) {
			p.Consumed = append(p.Consumed, s.Copy())
		}
	}
	if len(p.Produced) == 0 && len(p.Consumed) == 0 {
		return nil
	}
	return p
}

func copyStates(states []*LinearState) []*LinearState {
	if states == nil {
		return nil
	}
	c := make([]*LinearState, len(states))
	for i, s := range states {
		c[i] = s.Copy()
	}
	return c
}

// Filter selects linear states. Each non-empty list is an OR over its
// entries, and the lists and Expression are combined with AND. The zero
// Filter selects everything.
type Filter struct {
	LinearIDs    []string `json:"linear_ids,omitempty" yaml:"linear_ids,omitempty"`
	Participants []string `json:"participants,omitempty" yaml:"participants,omitempty"`
	Schemas      []string `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	// Expression is an expr-lang boolean expression evaluated against the
	// state, e.g. `payload.value > 10 && "alice" in participants`.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// IsEmpty reports whether the filter selects every state.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.LinearIDs) == 0 && len(f.Participants) == 0 &&
		len(f.Schemas) == 0 && f.Expression == "")
}
