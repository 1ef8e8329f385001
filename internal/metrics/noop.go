package metrics

import "context"

// NoOp is a recorder that does nothing, used when no OTLP endpoint is
// configured.
type NoOp struct{}

func NewNoOp() *NoOp {
	return &NoOp{}
}

func (NoOp) RunStarted(context.Context)             {}
func (NoOp) RunFinished(context.Context, string)    {}
func (NoOp) MessagesSynced(context.Context, int)    {}
func (NoOp) SyncError(context.Context)              {}
func (NoOp) EventDispatched(context.Context, string) {}
func (NoOp) PermissionRequested(context.Context)    {}
func (NoOp) Close(context.Context) error            { return nil }
