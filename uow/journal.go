package uow

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/strata/record"
)

// Record is one committed write as stored in a journal. Values are in
// export form.
type Record struct {
	Op      string         `msgpack:"op"`
	Model   string         `msgpack:"model"`
	PK      []any          `msgpack:"pk"`
	Changes map[string]any `msgpack:"changes"`
}

// recordOf returns the journal record of a committed entry. Deletes carry
// the values the row had.
func recordOf(e *Entry) (*Record, error) {
	meta := e.Inst.Meta()
	values := e.New
	if e.Op == OpDelete {
		values = e.Old
	}
	r := &Record{
		Op:      e.Op.String(),
		Model:   meta.Name,
		PK:      make([]any, len(meta.PrimaryKey)),
		Changes: make(map[string]any, len(values)),
	}
	pk := e.Inst.PrimaryKey()
	for n, name := range meta.PrimaryKey {
		v, err := export(meta.Name, e.Inst, name, pk[n])
		if err != nil {
			return nil, err
		}
		r.PK[n] = v
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		v, err := export(meta.Name, e.Inst, name, values[name])
		if err != nil {
			return nil, err
		}
		r.Changes[name] = v
	}
	return r, nil
}

func export(model string, inst *record.Instance, name string, v any) (any, error) {
	d, ok := inst.Meta().Field(name)
	if !ok {
		return nil, fmt.Errorf("uow: journal: %s has no field %q", model, name)
	}
	return d.ToExport(v)
}

func writeJournal(enc *msgpack.Encoder, l *Log) error {
	for _, e := range l.entries {
		if e.transient() {
			continue
		}
		r, err := recordOf(e)
		if err != nil {
			return err
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("uow: journal: %w", err)
		}
	}
	return nil
}

// ReadJournal decodes every record of a journal written by a coordinator
// configured with WithJournal.
func ReadJournal(r io.Reader) ([]Record, error) {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("uow: journal: %w", err)
		}
		out = append(out, rec)
	}
}
