package hostfunc

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const maxLogMessage = 4096

// NewLog returns the "log" host function. Guests call it with
// {"level": "info", "message": "...", "fields": {...}}; entries land on
// logger under the "guest" name.
func NewLog(logger *zap.Logger) Func {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("guest")

	return func(ctx context.Context, args map[string]any) (any, error) {
		msg, ok := args["message"].(string)
		if !ok {
			return nil, errors.New("message required")
		}
		if len(msg) > maxLogMessage {
			msg = msg[:maxLogMessage]
		}

		var fields []zap.Field
		if extra, ok := args["fields"].(map[string]any); ok {
			for k, v := range extra {
				fields = append(fields, zap.Any(k, v))
			}
		}
		if id := InstanceID(ctx); id != "" {
			fields = append(fields, zap.String("instance_id", id))
		}

		level, _ := args["level"].(string)
		switch level {
		case "debug":
			logger.Debug(msg, fields...)
		case "warn", "warning":
			logger.Warn(msg, fields...)
		case "error":
			logger.Error(msg, fields...)
		default:
			logger.Info(msg, fields...)
		}
		return "ok", nil
	}
}

type instanceKey struct{}

// WithInstanceID tags ctx with the pooled instance serving a call.
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceKey{}, id)
}

// InstanceID returns the id set by WithInstanceID, if any.
func InstanceID(ctx context.Context) string {
	id, _ := ctx.Value(instanceKey{}).(string)
	return id
}
