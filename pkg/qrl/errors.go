package qrl

import (
	"fmt"

	rerrors "github.com/vango-dev/resume/internal/errors"
)

// SymbolResolutionError reports that a symbol's module or export could not
// be loaded. It wraps the loader's failure.
type SymbolResolutionError struct {
	ModulePath string
	ExportName string
	Err        error
}

func (e *SymbolResolutionError) Error() string {
	return fmt.Sprintf("qrl: resolve %s#%s: %v", e.ModulePath, e.ExportName, e.Err)
}

func (e *SymbolResolutionError) Unwrap() error { return e.Err }

// Diagnostic returns the coded form of the error.
func (e *SymbolResolutionError) Diagnostic() *rerrors.Error {
	return rerrors.New("R200").
		WithPath(e.ModulePath + "#" + e.ExportName).
		Wrap(e.Err)
}
