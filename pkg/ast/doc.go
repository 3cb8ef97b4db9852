// Package ast defines the boundary between the traversal engine and the
// parser backends that turn a compiler argument vector into a tree.
//
// A Provider creates an Index; an Index parses one translation unit at a
// time into a Tree. Nodes expose their kind, spelling, location and
// (for macro expansions, calls and declaration references) a lookup of the
// node they resolve to. Backends live in subpackages: treesitter for a
// preprocessor-aware tree-sitter front end and clangjson for clang's JSON
// AST dump.
//
// Usage:
//
//	idx, err := treesitter.New(treesitter.Options{}).NewIndex()
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	tree, err := idx.Parse(ctx, task.Args, ast.OptDetailedPreprocessingRecord)
//	if err != nil {
//	    return err
//	}
//	defer tree.Close()
package ast
