package migrate

import "main/internal/model/enum"

// OpKind is the kind of an applied schema operation.
type OpKind uint8

const (
	OpCreateTable OpKind = iota + 1
	OpAddColumn
)

func (k OpKind) String() string {
	switch k {
	case OpCreateTable:
		return "create_table"
	case OpAddColumn:
		return "add_column"
	default:
		return "unknown"
	}
}

// Op is one additive schema operation. Destructive kinds do not exist:
// columns absent from the code descriptors are left untouched.
type Op struct {
	Kind   OpKind
	Entity enum.Entity
	Column string
}

// Plan is the ordered set of operations a reconcile applied.
type Plan struct {
	Ops []Op
}

func (p Plan) Empty() bool { return len(p.Ops) == 0 }

func (p *Plan) add(op Op) { p.Ops = append(p.Ops, op) }
