package main

import (
	"encoding/json"
	"fmt"

	"github.com/caffeineduck/gorex/content"
	"github.com/caffeineduck/gorex/extract"
)

const guestName = "gorex-extractor"

// fuelPerByte charges parsing work that happens inside library code the
// call-based meter undercounts.
const fuelPerByte = 16

type guestError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type envelope struct {
	OK    json.RawMessage `json:"ok,omitempty"`
	Error *guestError     `json:"error,omitempty"`
}

// respond runs op and returns the stdout envelope.
func respond(op string, arg []byte) []byte {
	var env envelope
	payload, gerr := run(op, arg)
	if gerr == nil {
		data, err := json.Marshal(payload)
		if err != nil {
			gerr = &guestError{Kind: "internal", Message: err.Error()}
		} else {
			env.OK = data
		}
	}
	env.Error = gerr

	out, _ := json.Marshal(env)
	return append(out, '\n')
}

func run(op string, arg []byte) (any, *guestError) {
	switch op {
	case "extract", "extract_with_stats":
		var req extract.Request
		if err := json.Unmarshal(arg, &req); err != nil {
			return nil, &guestError{Kind: "parse_error", Message: "decode request: " + err.Error()}
		}
		consumeFuel(int64(len(req.HTML)) / fuelPerByte)

		if op == "extract" {
			c, err := content.Extract(req)
			if err != nil {
				return nil, toGuestError(err)
			}
			logExtraction(req, c)
			return c, nil
		}
		c, stats, err := content.ExtractWithStats(req)
		if err != nil {
			return nil, toGuestError(err)
		}
		logExtraction(req, c)
		return map[string]any{"content": c, "stats": stats}, nil

	case "validate_html":
		var req extract.Request
		if err := json.Unmarshal(arg, &req); err != nil {
			return nil, &guestError{Kind: "parse_error", Message: "decode request: " + err.Error()}
		}
		return content.Validate(req.HTML), nil

	case "health_check":
		return extract.HealthStatus{
			Status:       "healthy",
			Version:      content.Version,
			Capabilities: content.Modes(),
		}, nil

	case "get_info":
		return extract.Info{
			Name:           guestName,
			Version:        content.Version,
			Features:       content.Features(),
			SupportedModes: content.Modes(),
		}, nil

	case "reset_state":
		// Every call runs in a fresh instantiation, so there is never state to drop.
		return "state reset; previous extraction count: 0", nil

	case "get_modes":
		return content.Modes(), nil

	default:
		return nil, &guestError{Kind: "internal", Message: fmt.Sprintf("unknown operation %q", op)}
	}
}

func toGuestError(err error) *guestError {
	switch extract.KindOf(err) {
	case extract.KindInvalidHTML:
		return &guestError{Kind: "invalid_html", Message: detail(err)}
	case extract.KindUnsupportedMode:
		return &guestError{Kind: "unsupported_mode", Message: detail(err)}
	default:
		return &guestError{Kind: "extractor_error", Message: err.Error()}
	}
}

func detail(err error) string {
	if e, ok := err.(*extract.Error); ok && e.Detail != "" {
		return e.Detail
	}
	return err.Error()
}

func logExtraction(req extract.Request, c *extract.Content) {
	hostCall("log", map[string]any{
		"level":   "debug",
		"message": "extracted",
		"fields": map[string]any{
			"url":        req.URL,
			"mode":       req.Mode.String(),
			"word_count": c.WordCount,
			"links":      len(c.Links),
		},
	})
}
