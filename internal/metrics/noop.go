package metrics

import (
	"context"
	"time"
)

// Noop discards every measurement. Dispatch uses it whenever a
// Filesystem is constructed without a metrics.Handle, so tests and the
// mem:// quick-start path never need a live registry.
var Noop Handle = noopHandle{}

type noopHandle struct{}

func (noopHandle) OpsCount(context.Context, string)                    {}
func (noopHandle) OpsLatency(context.Context, string, time.Duration)   {}
func (noopHandle) OpsErrorCount(context.Context, string, int32)        {}
