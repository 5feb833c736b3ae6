// Package language parses raw field-selection query text, e.g.
//
//	{title, author, comments{id, text}}
//
// into a selection.Tree. The grammar is a strict subset of the GraphQL
// selection-set syntax, so parsing is delegated to gqlparser and the AST is
// converted afterwards; anything outside the subset (aliases, arguments,
// directives, fragments, multiple operations) is rejected.
package language

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/hanpama/restql/internal/selection"
)

// Error reports query text that failed to parse or that uses constructs
// outside the selection grammar. Text carries the offending fragment.
type Error struct {
	Message string
	Text    string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	if e.Text == "" {
		return "query format error: " + e.Message
	}
	return fmt.Sprintf("query format error: %s on %q", e.Message, e.Text)
}

// Parse converts raw query text into a selection tree.
func Parse(raw string) (selection.Tree, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: raw})
	if err != nil {
		return nil, convertError(raw, err)
	}
	if len(doc.Operations) != 1 || doc.Operations[0].Operation != ast.Query {
		return nil, &Error{Message: "expected a single selection set", Text: raw}
	}
	op := doc.Operations[0]
	if op.Name != "" || len(op.VariableDefinitions) > 0 || len(doc.Fragments) > 0 {
		return nil, &Error{Message: "operations and fragments are not allowed", Text: raw}
	}
	return convertSelectionSet(raw, op.SelectionSet)
}

func convertSelectionSet(raw string, set ast.SelectionSet) (selection.Tree, error) {
	tree := make(selection.Tree, 0, len(set))
	seen := make(map[string]struct{}, len(set))
	for _, sel := range set {
		field, ok := sel.(*ast.Field)
		if !ok {
			return nil, &Error{Message: "fragments are not allowed", Text: raw}
		}
		if err := checkField(field); err != nil {
			return nil, err
		}
		if _, dup := seen[field.Name]; dup {
			return nil, positioned(fmt.Sprintf("duplicate field %q", field.Name), field)
		}
		seen[field.Name] = struct{}{}

		if len(field.SelectionSet) == 0 {
			tree = append(tree, selection.Flat(field.Name))
			continue
		}
		children, err := convertSelectionSet(raw, field.SelectionSet)
		if err != nil {
			return nil, err
		}
		tree = append(tree, selection.Nested(field.Name, children))
	}
	return tree, nil
}

// checkField rejects GraphQL constructs the selection grammar does not have.
func checkField(f *ast.Field) error {
	// gqlparser copies the name into Alias when no alias was written.
	if f.Alias != "" && f.Alias != f.Name {
		return positioned("aliases are not allowed", f)
	}
	if len(f.Arguments) > 0 {
		return positioned("arguments are not allowed", f)
	}
	if len(f.Directives) > 0 {
		return positioned("directives are not allowed", f)
	}
	return nil
}

func positioned(msg string, f *ast.Field) *Error {
	e := &Error{Message: msg, Text: f.Name}
	if f.Position != nil {
		e.Line = f.Position.Line
		e.Column = f.Position.Column
	}
	return e
}

func convertError(raw string, err error) *Error {
	e := &Error{Message: err.Error(), Text: raw}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		e.Message = gqlErr.Message
		if len(gqlErr.Locations) > 0 {
			e.Line = gqlErr.Locations[0].Line
			e.Column = gqlErr.Locations[0].Column
		}
	}
	return e
}
