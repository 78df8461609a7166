package common

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	jsoniter "github.com/json-iterator/go"
	"github.com/ledgerkit/ledgerkit/api"
	"github.com/ledgerkit/ledgerkit/manager/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Output formats accepted by -o.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

var (
	produced = color.New(color.FgGreen).SprintFunc()
	consumed = color.New(color.FgRed).SprintFunc()
)

// Printer renders query results in the format chosen with -o. In yaml mode
// each value is a separate document; in json mode each value is one line.
type Printer struct {
	w      io.Writer
	format string
	docs   int

	// txHeader is set once the transactions header was printed, so that
	// followed batches continue the same table.
	txHeader bool
}

// NewPrinter returns a printer writing format to w.
func NewPrinter(w io.Writer, format string) (*Printer, error) {
	switch format {
	case FormatTable, FormatYAML, FormatJSON:
	default:
		return nil, errors.Errorf("unknown output format %q (options \"table\", \"yaml\", \"json\")", format)
	}
	return &Printer{w: w, format: format}, nil
}

// PrinterFor returns a printer for the command's output flag.
func PrinterFor(cmd *cobra.Command) (*Printer, error) {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	return NewPrinter(cmd.OutOrStdout(), format)
}

type stateView struct {
	LinearID         string      `json:"linear_id" yaml:"linear_id"`
	Revision         uint64      `json:"revision" yaml:"revision"`
	Status           string      `json:"status" yaml:"status"`
	Participants     []string    `json:"participants,omitempty" yaml:"participants,omitempty"`
	Schema           string      `json:"schema,omitempty" yaml:"schema,omitempty"`
	Data             interface{} `json:"data,omitempty" yaml:"data,omitempty"`
	TxID             string      `json:"tx_id" yaml:"tx_id"`
	Sequence         uint64      `json:"sequence" yaml:"sequence"`
	ConsumedBy       string      `json:"consumed_by,omitempty" yaml:"consumed_by,omitempty"`
	ConsumedSequence uint64      `json:"consumed_sequence,omitempty" yaml:"consumed_sequence,omitempty"`
}

type snapshotView struct {
	Cursor uint64      `json:"cursor" yaml:"cursor"`
	States []stateView `json:"states" yaml:"states"`
}

type eventView struct {
	Sequence  uint64      `json:"sequence" yaml:"sequence"`
	TxID      string      `json:"tx_id" yaml:"tx_id"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Produced  []stateView `json:"produced,omitempty" yaml:"produced,omitempty"`
	Consumed  []stateView `json:"consumed,omitempty" yaml:"consumed,omitempty"`
}

type transactionView struct {
	ID        string      `json:"id" yaml:"id"`
	Sequence  uint64      `json:"sequence" yaml:"sequence"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Inputs    []uint64    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs   []stateView `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// payload decodes a payload for display. Payloads the registry cannot decode
// are shown as text.
func payload(p api.Payload) interface{} {
	if len(p.Data) == 0 {
		return nil
	}
	v, err := schema.Default.Decode(p.Schema, p.Data)
	if err != nil {
		return string(p.Data)
	}
	return v
}

func viewState(s *api.LinearState) stateView {
	return stateView{
		LinearID:         s.LinearID,
		Revision:         s.RevisionID,
		Status:           s.Status.String(),
		Participants:     s.Participants,
		Schema:           s.Payload.Schema,
		Data:             payload(s.Payload),
		TxID:             s.TxID,
		Sequence:         s.Sequence,
		ConsumedBy:       s.ConsumedBy,
		ConsumedSequence: s.ConsumedSequence,
	}
}

func viewStates(states []*api.LinearState) []stateView {
	views := make([]stateView, 0, len(states))
	for _, s := range states {
		views = append(views, viewState(s))
	}
	return views
}

func (p *Printer) encode(v interface{}) error {
	switch p.format {
	case FormatYAML:
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		if p.docs > 0 {
			if _, err := io.WriteString(p.w, "---\n"); err != nil {
				return err
			}
		}
		p.docs++
		_, err = p.w.Write(out)
		return err
	default:
		return jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(p.w).Encode(v)
	}
}

func (p *Printer) table(header ...string) *tabwriter.Writer {
	w := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	return w
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// States prints a snapshot of states taken at cursor.
func (p *Printer) States(states []*api.LinearState, cursor uint64) error {
	if p.format != FormatTable {
		return p.encode(snapshotView{Cursor: cursor, States: viewStates(states)})
	}
	if err := p.stateTable(states); err != nil {
		return err
	}
	_, err := fmt.Fprintf(p.w, "cursor: %d\n", cursor)
	return err
}

// History prints the revisions of one linear state.
func (p *Printer) History(states []*api.LinearState) error {
	if p.format != FormatTable {
		return p.encode(viewStates(states))
	}
	return p.stateTable(states)
}

func (p *Printer) stateTable(states []*api.LinearState) error {
	w := p.table("LINEAR ID", "REV", "STATUS", "SCHEMA", "PARTICIPANTS", "TX", "SEQ")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%d\n",
			s.LinearID,
			s.RevisionID,
			s.Status,
			s.Payload.Schema,
			strings.Join(s.Participants, ","),
			s.TxID,
			s.Sequence,
		)
	}
	return w.Flush()
}

// Event prints one subscription event. In table mode every state of the
// event is a line marked + when produced and - when consumed.
func (p *Printer) Event(e *api.Event) error {
	if p.format != FormatTable {
		return p.encode(eventView{
			Sequence:  e.Sequence,
			TxID:      e.TxID,
			Timestamp: e.Timestamp,
			Produced:  viewStates(e.Produced),
			Consumed:  viewStates(e.Consumed),
		})
	}

	w := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	line := func(marker string, s *api.LinearState) {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
			marker,
			e.Sequence,
			e.TxID,
			s.LinearID,
			s.RevisionID,
			s.Payload.Schema,
			ago(e.Timestamp),
		)
	}
	for _, s := range e.Consumed {
		line(consumed("-"), s)
	}
	for _, s := range e.Produced {
		line(produced("+"), s)
	}
	return w.Flush()
}

func viewTransaction(t *api.Transaction) transactionView {
	return transactionView{
		ID:        t.ID,
		Sequence:  t.Sequence,
		Timestamp: t.Timestamp,
		Inputs:    t.Inputs,
		Outputs:   viewStates(t.Outputs),
	}
}

// Transactions prints committed transactions in commit order.
func (p *Printer) Transactions(txs []*api.Transaction) error {
	if p.format != FormatTable {
		views := make([]transactionView, 0, len(txs))
		for _, t := range txs {
			views = append(views, viewTransaction(t))
		}
		return p.encode(views)
	}

	w := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	if !p.txHeader {
		fmt.Fprintln(w, "SEQ\tTX\tINPUTS\tOUTPUTS\tCOMMITTED")
		p.txHeader = true
	}
	for _, t := range txs {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n",
			t.Sequence,
			t.ID,
			len(t.Inputs),
			len(t.Outputs),
			ago(t.Timestamp),
		)
	}
	return w.Flush()
}

// Transaction prints one committed transaction with its outputs.
func (p *Printer) Transaction(t *api.Transaction) error {
	if p.format != FormatTable {
		return p.encode(viewTransaction(t))
	}
	if _, err := fmt.Fprintf(p.w, "committed %s at sequence %d\n", t.ID, t.Sequence); err != nil {
		return err
	}
	return p.stateTable(t.Outputs)
}
