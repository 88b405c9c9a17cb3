// Package qrl provides lazy symbol references: inert, serializable pointers
// to behavior that is loaded only when first invoked.
//
// A Symbol names a module path and an export, plus the values the closure
// captured when it was extracted by the bundler:
//
//	onDelete := qrl.New("app/todos.js", "onDelete", todo)
//
// Symbols are never loaded eagerly. Resolving one goes through a Resolver,
// which asks its ModuleLoader for the export and memoizes the result per
// (module path, export name) for the life of the process:
//
//	fn, err := qrl.Default().Resolve(ctx, onDelete)
//	out, err := onDelete.Invoke(ctx, qrl.Default(), event)
//
// Concurrent resolutions of the same export share one in-flight load. A
// failed load is not cached, so a later call retries it.
//
// Resolution is the only operation in the runtime that may block on I/O;
// everything else (tracking, notification, snapshot walks) is synchronous.
package qrl
