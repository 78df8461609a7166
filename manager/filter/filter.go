// Package filter compiles wire filters into matchers over linear states.
package filter

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/identity"
	"github.com/ledgerkit/ledgerkit/log"
	"github.com/ledgerkit/ledgerkit/manager/schema"
	"github.com/ledgerkit/ledgerkit/manager/state/store"
)

// env is what an expression sees. Payload is decoded through the schema
// registry only for expressions that reference it.
type env struct {
	LinearID     string      `expr:"linearId"`
	Revision     uint64      `expr:"revision"`
	Participants []string    `expr:"participants"`
	Schema       string      `expr:"schema"`
	Status       string      `expr:"status"`
	TxID         string      `expr:"txId"`
	Sequence     uint64      `expr:"sequence"`
	Payload      interface{} `expr:"payload"`
}

// Matcher is a compiled filter. A nil *Matcher matches every state.
type Matcher struct {
	filter       api.Filter
	linearIDs    map[string]struct{}
	participants []string
	schemas      map[string]struct{}

	program     *vm.Program
	usesPayload bool
	registry    *schema.Registry
}

// Compile validates f and compiles it. Payloads referenced by the expression
// are decoded with registry, or schema.Default when registry is nil. A nil
// or empty filter compiles to a matcher that selects everything. Malformed
// filters are rejected with an *api.InvalidFilterError.
func Compile(f *api.Filter, registry *schema.Registry) (*Matcher, error) {
	if registry == nil {
		registry = schema.Default
	}
	m := &Matcher{registry: registry}
	if f == nil {
		return m, nil
	}
	m.filter = *f

	if len(f.LinearIDs) > 0 {
		m.linearIDs = make(map[string]struct{}, len(f.LinearIDs))
		for _, id := range f.LinearIDs {
			if err := identity.ValidateLinearID(id); err != nil {
				return nil, invalid("linear id %q: %v", id, err)
			}
			m.linearIDs[id] = struct{}{}
		}
	}
	for _, p := range f.Participants {
		if strings.TrimSpace(p) == "" {
			return nil, invalid("empty participant")
		}
		m.participants = append(m.participants, p)
	}
	if len(f.Schemas) > 0 {
		m.schemas = make(map[string]struct{}, len(f.Schemas))
		for _, s := range f.Schemas {
			if strings.TrimSpace(s) == "" {
				return nil, invalid("empty schema")
			}
			m.schemas[s] = struct{}{}
		}
	}

	if strings.TrimSpace(f.Expression) != "" {
		program, err := expr.Compile(f.Expression, expr.Env(env{}), expr.AsBool())
		if err != nil {
			return nil, invalid("expression: %v", err)
		}
		m.program = program
		m.usesPayload = strings.Contains(f.Expression, "payload")
	}
	return m, nil
}

func invalid(format string, args ...interface{}) error {
	return &api.InvalidFilterError{Reason: fmt.Sprintf(format, args...)}
}

// Matches reports whether s satisfies every part of the filter.
func (m *Matcher) Matches(s *api.LinearState) bool {
	if s == nil {
		return false
	}
	if m == nil {
		return true
	}
	if m.linearIDs != nil {
		if _, ok := m.linearIDs[s.LinearID]; !ok {
			return false
		}
	}
	if len(m.participants) > 0 {
		found := false
		for _, p := range m.participants {
			if s.HasParticipant(p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m.schemas != nil {
		if _, ok := m.schemas[s.Payload.Schema]; !ok {
			return false
		}
	}
	if m.program != nil {
		return m.eval(s)
	}
	return true
}

func (m *Matcher) eval(s *api.LinearState) bool {
	e := env{
		LinearID:     s.LinearID,
		Revision:     s.RevisionID,
		Participants: s.Participants,
		Schema:       s.Payload.Schema,
		Status:       s.Status.String(),
		TxID:         s.TxID,
		Sequence:     s.Sequence,
	}
	if m.usesPayload {
		payload, err := m.registry.Decode(s.Payload.Schema, s.Payload.Data)
		if err != nil {
			log.L.WithError(err).WithField("revision", s.RevisionID).Debug("filter: payload not decodable")
			return false
		}
		e.Payload = payload
	}

	out, err := expr.Run(m.program, e)
	if err != nil {
		// Expressions that fail on a particular state, e.g. by reaching
		// into a missing payload field, do not select it.
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// Index narrows the store scan to the most selective index the filter
// constrains.
func (m *Matcher) Index() store.By {
	switch {
	case m == nil:
		return store.All
	case len(m.filter.LinearIDs) > 0:
		return store.ByLinearIDs(m.filter.LinearIDs...)
	case len(m.participants) > 0:
		return store.ByParticipants(m.participants...)
	case len(m.filter.Schemas) > 0:
		return store.BySchemas(m.filter.Schemas...)
	default:
		return store.All
	}
}

// String renders the filter for logs.
func (m *Matcher) String() string {
	if m == nil || m.filter.IsEmpty() {
		return "all"
	}
	var parts []string
	if len(m.filter.LinearIDs) > 0 {
		parts = append(parts, "linear_id in "+strings.Join(m.filter.LinearIDs, ","))
	}
	if len(m.participants) > 0 {
		parts = append(parts, "participant in "+strings.Join(m.participants, ","))
	}
	if len(m.filter.Schemas) > 0 {
		parts = append(parts, "schema in "+strings.Join(m.filter.Schemas, ","))
	}
	if m.filter.Expression != "" {
		parts = append(parts, "("+m.filter.Expression+")")
	}
	return strings.Join(parts, " && ")
}
