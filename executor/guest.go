package executor

// Guest is an extraction module the executor can load.
type Guest interface {
	// Name identifies the guest; it is the cache key for compiled modules.
	Name() string

	// Module returns the WASM binary. It must be a WASI command exporting
	// _start and its memory.
	Module() []byte
}

// Guest operations, passed as argv[1].
const (
	OpExtract          = "extract"
	OpExtractWithStats = "extract_with_stats"
	OpValidateHTML     = "validate_html"
	OpHealthCheck      = "health_check"
	OpGetInfo          = "get_info"
	OpResetState       = "reset_state"
	OpGetModes         = "get_modes"
)

const guestArgv0 = "gorex-extractor"

// Host import module offered to guests.
const hostModuleName = "gorex"
