package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/syssam/strata/schema"
)

// CreateTable renders the CREATE TABLE statement of a model, including the
// foreign keys of its direct relationships.
func (cfg Config) CreateTable(meta *schema.Metadata) (string, error) {
	if meta.Abstract || meta.View {
		return "", fmt.Errorf("compiler: %s has no table", meta.Name)
	}
	q := cfg.Flavor.Quote
	auto, hasAuto := meta.AutoIncrement()
	var (
		lines    []string
		inlinePK bool
		autoType string
		autoInPK bool
	)
	if hasAuto {
		autoType, autoInPK = cfg.Flavor.AutoIncrement()
	}
	for _, d := range meta.Fields() {
		var b strings.Builder
		b.WriteString(q(d.StorageKey()) + " ")
		if hasAuto && d == auto {
			b.WriteString(autoType)
			inlinePK = autoInPK
		} else {
			b.WriteString(cfg.Flavor.ColumnType(d))
		}
		if !d.Nullable && !(hasAuto && d == auto && autoInPK) {
			b.WriteString(" NOT NULL")
		}
		lines = append(lines, b.String())
	}
	if !inlinePK {
		cols := make([]string, len(meta.PrimaryKey))
		for i, name := range meta.PrimaryKey {
			d, _ := meta.Field(name)
			cols[i] = q(d.StorageKey())
		}
		lines = append(lines, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}
	for _, name := range meta.JoinNames() {
		j, _, err := meta.Join(name)
		if err != nil {
			return "", err
		}
		if j.Kind != schema.JoinDirect {
			continue
		}
		target, err := cfg.Registry.Metadata(j.Target)
		if err != nil {
			return "", err
		}
		local := make([]string, len(j.Local))
		foreign := make([]string, len(j.Foreign))
		for i := range j.Local {
			ld, _ := meta.Field(j.Local[i])
			fd, _ := target.Field(j.Foreign[i])
			local[i], foreign[i] = q(ld.StorageKey()), q(fd.StorageKey())
		}
		fk := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			strings.Join(local, ", "), q(target.Table), strings.Join(foreign, ", "))
		if j.OnDelete != "" {
			fk += " ON DELETE " + string(j.OnDelete)
		}
		if j.OnUpdate != "" {
			fk += " ON UPDATE " + string(j.OnUpdate)
		}
		lines = append(lines, fk)
	}
	return "CREATE TABLE IF NOT EXISTS " + q(meta.Table) + " (\n  " + strings.Join(lines, ",\n  ") + "\n)", nil
}

// DropTable renders the DROP TABLE statement of a model.
func (cfg Config) DropTable(meta *schema.Metadata) string {
	return "DROP TABLE IF EXISTS " + cfg.Flavor.Quote(meta.Table)
}

// CreateTables renders CREATE TABLE statements for every concrete model of
// the registry, referenced tables first. Ties are broken by model name.
func (cfg Config) CreateTables() ([]string, error) {
	metas, err := cfg.tableOrder()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(metas))
	for _, m := range metas {
		s, err := cfg.CreateTable(m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// DropTables renders DROP TABLE statements, referencing tables first.
func (cfg Config) DropTables() ([]string, error) {
	metas, err := cfg.tableOrder()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(metas))
	for i := len(metas) - 1; i >= 0; i-- {
		out = append(out, cfg.DropTable(metas[i]))
	}
	return out, nil
}

// Tables returns the concrete models accepted by keep, referenced tables
// first. A nil keep accepts every model.
func (cfg Config) Tables(keep func(*schema.Metadata) bool) ([]*schema.Metadata, error) {
	metas, err := cfg.tableOrder()
	if err != nil || keep == nil {
		return metas, err
	}
	out := metas[:0]
	for _, m := range metas {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (cfg Config) tableOrder() ([]*schema.Metadata, error) {
	g := graph.New(graph.StringHash, graph.Directed())
	index := make(map[string]int)
	byName := make(map[string]*schema.Metadata)
	for _, name := range cfg.Registry.Models() {
		m, err := cfg.Registry.Metadata(name)
		if err != nil {
			return nil, err
		}
		if m.Abstract || m.View {
			continue
		}
		index[name] = len(index)
		byName[name] = m
		if err := g.AddVertex(name); err != nil {
			return nil, err
		}
	}
	for name, m := range byName {
		for _, edge := range m.JoinNames() {
			j, _, err := m.Join(edge)
			if err != nil {
				return nil, err
			}
			if j.Kind != schema.JoinDirect || j.Target == name {
				continue
			}
			if _, ok := byName[j.Target]; !ok {
				continue
			}
			if err := g.AddEdge(j.Target, name); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, err
			}
		}
	}
	names, err := graph.StableTopologicalSort(g, func(a, b string) bool { return index[a] < index[b] })
	if err != nil {
		return nil, fmt.Errorf("compiler: ordering tables: %w", err)
	}
	out := make([]*schema.Metadata, len(names))
	for i, n := range names {
		out[i] = byName[n]
	}
	return out, nil
}
