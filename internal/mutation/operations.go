package mutation

// Operation keys accepted inside a nested-collection payload. The set is
// closed; any other key is rejected with InvalidOperationError.
const (
	OpAdd    = "add"
	OpCreate = "create"
	OpRemove = "remove"
	OpUpdate = "update"
)

// OperationSet is one collection field's payload: operation key -> operand.
// add/remove take key lists, create takes sub-payload lists, update takes a
// key -> partial-payload mapping.
type OperationSet map[string]any

var createOps = map[string]struct{}{OpAdd: {}, OpCreate: {}}

var updateOps = map[string]struct{}{OpAdd: {}, OpCreate: {}, OpRemove: {}, OpUpdate: {}}

// checkOps validates every key of ops against the allowed set.
func checkOps(ops OperationSet, allowed map[string]struct{}) error {
	for op := range ops {
		if _, ok := allowed[op]; !ok {
			return &InvalidOperationError{Op: op}
		}
	}
	return nil
}
