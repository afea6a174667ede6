package edge

// Edge is a relationship declaration. It is a closed union of *Direct,
// *Reverse and *Through; the schema registry resolves every variant into a
// single normalized join description.
type Edge interface {
	EdgeName() string
	isEdge()
}

// Action is the referential action of a foreign key constraint.
type Action string

// Referential actions.
const (
	Cascade    Action = "CASCADE"
	SetNull    Action = "SET NULL"
	Restrict   Action = "RESTRICT"
	SetDefault Action = "SET DEFAULT"
	NoAction   Action = "NO ACTION"
)

// Direct is a relationship owned by the declaring model: its local fields
// reference fields of the target model.
type Direct struct {
	Name       string
	Model      string
	Local      []string
	Foreign    []string
	Nullable   bool
	CommentStr string
	// OnDeleteAction and OnUpdateAction are rendered in the foreign key
	// constraint. Empty means the database default.
	OnDeleteAction Action
	OnUpdateAction Action
}

// To declares a direct relationship to model through local foreign key fields.
//
//	edge.To("customer", "Customer").Field("customer_id")
func To(name, model string) *Direct {
	return &Direct{Name: name, Model: model}
}

// Field sets the local foreign key fields. Defaults to name + "_id".
func (d *Direct) Field(fields ...string) *Direct {
	d.Local = fields
	return d
}

// References sets the target fields. Defaults to the target's primary key.
func (d *Direct) References(fields ...string) *Direct {
	d.Foreign = fields
	return d
}

// Optional marks the relationship as nullable; joins over it are LEFT joins.
func (d *Direct) Optional() *Direct {
	d.Nullable = true
	return d
}

// OnDelete sets the action taken when the referenced row is deleted.
func (d *Direct) OnDelete(a Action) *Direct {
	d.OnDeleteAction = a
	return d
}

// OnUpdate sets the action taken when the referenced key changes.
func (d *Direct) OnUpdate(a Action) *Direct {
	d.OnUpdateAction = a
	return d
}

// Comment sets the edge comment.
func (d *Direct) Comment(c string) *Direct {
	d.CommentStr = c
	return d
}

// EdgeName implements Edge.
func (d *Direct) EdgeName() string { return d.Name }

func (*Direct) isEdge() {}

// Reverse is the back-reference of a Direct edge declared on another model.
type Reverse struct {
	Name   string
	Model  string
	RefTo  string
	Single bool
}

// From declares the reverse side of the direct edge named by Ref on model.
//
//	edge.From("orders", "Order").Ref("customer")
func From(name, model string) *Reverse {
	return &Reverse{Name: name, Model: model}
}

// Ref names the direct edge on the peer model.
func (r *Reverse) Ref(name string) *Reverse {
	r.RefTo = name
	return r
}

// Unique marks the reverse relationship as single-valued (one-to-one).
func (r *Reverse) Unique() *Reverse {
	r.Single = true
	return r
}

// EdgeName implements Edge.
func (r *Reverse) EdgeName() string { return r.Name }

func (*Reverse) isEdge() {}

// Through is a many-to-many relationship mediated by an association model
// that declares direct edges to both sides.
type Through struct {
	Name    string
	Model   string
	Via     string
	RefTo   string
	ToField string
}

// ThroughModel declares a many-to-many relationship to model via the
// association model via.
//
//	edge.ThroughModel("tags", "Tag", "PostTag").Ref("post").Target("tag")
func ThroughModel(name, model, via string) *Through {
	return &Through{Name: name, Model: model, Via: via}
}

// Ref names the direct edge on the association model pointing back at the
// declaring model.
func (t *Through) Ref(name string) *Through {
	t.RefTo = name
	return t
}

// Target names the direct edge on the association model pointing at the
// target model.
func (t *Through) Target(name string) *Through {
	t.ToField = name
	return t
}

// EdgeName implements Edge.
func (t *Through) EdgeName() string { return t.Name }

func (*Through) isEdge() {}

var (
	_ Edge = (*Direct)(nil)
	_ Edge = (*Reverse)(nil)
	_ Edge = (*Through)(nil)
)
