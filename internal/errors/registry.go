package errors

import (
	"sort"
	"sync"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
	DocURL     string
}

const docBase = "https://resume.vango.dev/errors/"

var (
	registryMu sync.RWMutex

	// registry maps error codes to their templates.
	registry = map[string]ErrorTemplate{
		// ============================================
		// Encode Errors (R100, R103-R119)
		// ============================================

		"R100": {
			Category:   CategoryEncode,
			Message:    "Value cannot be serialized",
			Detail:     "The snapshot walk reached a value with no registered codec. Plain Go functions, channels, and host handles cannot be written to a snapshot.",
			Suggestion: "Reference behavior through qrl.New so only its module path and export name are stored",
			DocURL:     docBase + "R100",
		},
		"R103": {
			Category:   CategoryEncode,
			Message:    "Pending promise cannot be serialized",
			Detail:     "The snapshot reached a promise that has not settled. Deferral is disabled by default.",
			Suggestion: "Settle the promise before taking the snapshot, or enable snapshot.AllowDeferredPromises()",
			DocURL:     docBase + "R103",
		},

		// ============================================
		// Decode Errors (R101-R102, R120-R139)
		// ============================================

		"R101": {
			Category: CategoryDecode,
			Message:  "Cyclic reference to a scalar value",
			Detail:   "An entry refers back to an entry that is still being decoded and is not an object or array. Only containers can participate in cycles.",
			DocURL:   docBase + "R101",
		},
		"R102": {
			Category:   CategoryDecode,
			Message:    "Unknown snapshot tag",
			Detail:     "The snapshot contains a tag this reader does not recognize. The snapshot was probably produced by a different format version or with a custom codec that is not registered here.",
			Suggestion: "Register the custom codec before resuming, or regenerate the snapshot",
			DocURL:     docBase + "R102",
		},
		"R120": {
			Category: CategoryDecode,
			Message:  "Malformed snapshot",
			Detail:   "The snapshot text is not a valid snapshot document.",
			DocURL:   docBase + "R120",
		},
		"R121": {
			Category: CategoryDecode,
			Message:  "Snapshot index out of range",
			Detail:   "An entry refers to an index outside the entry table.",
			DocURL:   docBase + "R121",
		},

		// ============================================
		// Symbol Errors (R200-R219)
		// ============================================

		"R200": {
			Category:   CategorySymbol,
			Message:    "Symbol resolution failed",
			Detail:     "The module loader could not load the module or could not find the export. The failure is not cached, so a later invocation retries the load.",
			Suggestion: "Check that the module path and export name produced by the bundler are registered with the loader",
			DocURL:     docBase + "R200",
		},

		// ============================================
		// Reactive Errors (R300-R319)
		// ============================================

		"R300": {
			Category: CategoryReactive,
			Message:  "Subscriber notified after disposal",
			Detail:   "A subscriber was scheduled after its container was disposed. The notification is ignored.",
			DocURL:   docBase + "R300",
		},
		"R301": {
			Category: CategoryReactive,
			Message:  "Subscriber failed",
			Detail:   "A task, computed, or renderer returned an error or panicked. Other subscribers in the same flush still run.",
			DocURL:   docBase + "R301",
		},

		// ============================================
		// Store Errors (R400-R419)
		// ============================================

		"R400": {
			Category: CategoryStore,
			Message:  "Snapshot not found",
			Detail:   "No snapshot is stored under the requested id, or it has expired.",
			DocURL:   docBase + "R400",
		},
		"R401": {
			Category: CategoryStore,
			Message:  "Snapshot store unavailable",
			Detail:   "The snapshot store backend returned an error or has been closed.",
			DocURL:   docBase + "R401",
		},

		// ============================================
		// Config Errors (R500-R519)
		// ============================================

		"R500": {
			Category:   CategoryConfig,
			Message:    "Invalid configuration",
			Detail:     "The configuration file could not be parsed or contains invalid values.",
			Suggestion: "Run `resume config` to print the effective configuration",
			DocURL:     docBase + "R500",
		},

		// ============================================
		// CLI Errors (R900-R919)
		// ============================================

		"R900": {
			Category: CategoryCLI,
			Message:  "Command failed",
			DocURL:   docBase + "R900",
		},
	}
)

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces an error template.
func Register(code string, template ErrorTemplate) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = template
}
