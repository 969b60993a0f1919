package analytics

import (
	"context"

	"levelkit/core"
)

// Source is anything that can fan every published event out to a handler.
type Source interface {
	SubscribeAll(handler func(context.Context, core.Event)) func()
}

// BridgeHook bridges an event source to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(ctx context.Context, e core.Event) {
	for _, h := range b.hooks {
		h.OnEvent(ctx, e)
	}
}

// Attach subscribes the bridge to src and returns the unsubscribe func.
func (b *BridgeHook) Attach(src Source) func() {
	return src.SubscribeAll(b.OnEvent)
}
