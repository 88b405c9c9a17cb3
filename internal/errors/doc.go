// Package errors provides coded, actionable diagnostics for resume.
//
// Every failure the runtime surfaces (a value that cannot be serialized, a
// snapshot from an incompatible writer, a symbol whose module cannot be
// loaded) maps to a registered code. The code carries a short message, a
// detailed explanation, and a documentation link, so the CLI can print the
// same guidance regardless of which package raised the error.
//
// # Error Categories
//
// Errors are organized into categories:
//   - encode: snapshot creation errors (non-serializable values)
//   - decode: snapshot parsing and resolution errors (unknown tags, cycles)
//   - symbol: lazy symbol resolution errors
//   - reactive: subscriber and container lifecycle errors
//   - store: snapshot persistence errors
//   - config: configuration file errors
//
// # Usage
//
//	err := errors.New("R100").
//	    WithPath("root.todos[3].onDelete").
//	    WithSuggestion("Wrap the closure with qrl.New so it can be referenced lazily")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR R100: Value cannot be serialized
//	//
//	//   at root.todos[3].onDelete
//	//
//	//   Hint: Wrap the closure with qrl.New so it can be referenced lazily
//	//
//	//   Learn more: https://resume.vango.dev/errors/R100
package errors
