package hostfunc

import (
	"context"
	"time"
)

// TimeNow returns the host wall clock in fractional Unix seconds.
func TimeNow(ctx context.Context, args map[string]any) (any, error) {
	return float64(time.Now().UnixNano()) / 1e9, nil
}
