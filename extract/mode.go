package extract

import (
	"fmt"
	"strings"
)

// ModeKind tags an extraction mode.
type ModeKind string

const (
	ModeArticle  ModeKind = "article"
	ModeFull     ModeKind = "full"
	ModeMetadata ModeKind = "metadata"
	ModeCustom   ModeKind = "custom"
)

// Mode is a closed variant over the extraction strategies a guest understands.
// Fields carries CSS selectors and is only meaningful for ModeCustom.
type Mode struct {
	Kind   ModeKind `json:"kind"`
	Fields []string `json:"fields,omitempty"`
}

func Article() Mode { return Mode{Kind: ModeArticle} }
func Full() Mode { return Mode{Kind: ModeFull} }
func Metadata() Mode { return Mode{Kind: ModeMetadata} }

// Custom returns a mode that extracts the text matched by the given selectors.
func Custom(selectors ...string) Mode {
	return Mode{Kind: ModeCustom, Fields: selectors}
}

func (m Mode) String() string {
	if m.Kind == ModeCustom {
		return string(m.Kind) + ":" + strings.Join(m.Fields, ",")
	}
	return string(m.Kind)
}

// Known reports whether the kind is one of the four supported tags.
func (m Mode) Known() bool {
	switch m.Kind {
	case ModeArticle, ModeFull, ModeMetadata, ModeCustom:
		return true
	}
	return false
}

// ParseMode parses the textual form used by the CLI and HTTP API:
// "article", "full", "metadata" or "custom:sel1,sel2".
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Article(), nil
	}

	kind, rest, hasFields := strings.Cut(s, ":")
	switch ModeKind(strings.ToLower(kind)) {
	case ModeArticle:
		return Article(), nil
	case ModeFull:
		return Full(), nil
	case ModeMetadata:
		return Metadata(), nil
	case ModeCustom:
		if !hasFields {
			return Mode{}, fmt.Errorf("custom mode requires selectors (custom:sel1,sel2)")
		}
		var fields []string
		for _, f := range strings.Split(rest, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		return Custom(fields...), nil
	default:
		return Mode{}, fmt.Errorf("unknown mode %q (expected article, full, metadata, or custom:...)", kind)
	}
}
