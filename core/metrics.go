package core

import "context"

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type NopDispatchHook struct{}

func (NopDispatchHook) OnStart(context.Context, DispatchEvent)   {}
func (NopDispatchHook) OnSuccess(context.Context, DispatchEvent) {}
func (NopDispatchHook) OnFailure(context.Context, DispatchEvent) {}

// DispatchHooks fans every event out to each hook in order.
type DispatchHooks []DispatchHook

func (h DispatchHooks) OnStart(ctx context.Context, event DispatchEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.OnStart(ctx, event)
		}
	}
}

func (h DispatchHooks) OnSuccess(ctx context.Context, event DispatchEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.OnSuccess(ctx, event)
		}
	}
}

func (h DispatchHooks) OnFailure(ctx context.Context, event DispatchEvent) {
	for _, hook := range h {
		if hook != nil {
			hook.OnFailure(ctx, event)
		}
	}
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ DispatchHook    = NopDispatchHook{}
	_ DispatchHook    = DispatchHooks(nil)
)
