package api

// Op enumerates the mutating operations the service exposes. The transport
// maps its verbs onto this enum; dispatch itself is transport-independent.
type Op int

const (
	OpIndex Op = iota
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpIndex:
		return "INDEX"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseOp maps a transport verb to an operation.
func ParseOp(method string) (Op, bool) {
	switch method {
	case "INDEX":
		return OpIndex, true
	case "DELETE":
		return OpDelete, true
	default:
		return 0, false
	}
}
