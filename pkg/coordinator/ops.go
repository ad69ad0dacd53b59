package coordinator

// Mode selects the lifetime of a created node.
type Mode int

const (
	// Persistent nodes survive until explicitly removed.
	Persistent Mode = iota
	// Ephemeral nodes are removed when their creator's session ends.
	Ephemeral
)

// AnyVersion matches any node version in remove, set, and check operations.
const AnyVersion int32 = -1

// OpType identifies one operation inside a Multi transaction.
type OpType int

const (
	OpCreate OpType = iota
	OpRemove
	OpSet
	OpCheck
)

// Op is a single operation of a Multi transaction. Build ops with the
// constructors below rather than by hand.
type Op struct {
	Type OpType
	Path string
	Data []byte
	Mode Mode
	// Version is the expected node version for remove, set, and check.
	Version int32
	// IgnoreIfExists makes a persistent create succeed (as a no-op) when the
	// node is already present.
	IgnoreIfExists bool
}

// OpResult is the per-operation outcome of a successful Multi transaction.
type OpResult struct {
	// Version is the node's version after a create or set; zero otherwise.
	Version int32
}

// CreateOp asserts the node is absent and creates it.
func CreateOp(path string, data []byte, mode Mode) Op {
	return Op{Type: OpCreate, Path: path, Data: data, Mode: mode}
}

// CreateIgnoreExistsOp creates a persistent node, succeeding as a no-op if it
// already exists.
func CreateIgnoreExistsOp(path string, data []byte) Op {
	return Op{Type: OpCreate, Path: path, Data: data, Mode: Persistent, IgnoreIfExists: true}
}

// RemoveOp removes a childless node whose version matches.
func RemoveOp(path string, version int32) Op {
	return Op{Type: OpRemove, Path: path, Version: version}
}

// SetOp replaces a node's payload and bumps its version.
func SetOp(path string, data []byte, version int32) Op {
	return Op{Type: OpSet, Path: path, Data: data, Version: version}
}

// CheckOp asserts a node exists with the given version, writing nothing.
func CheckOp(path string, version int32) Op {
	return Op{Type: OpCheck, Path: path, Version: version}
}
