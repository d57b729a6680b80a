// Package tracing turns hook invocations of the virtual memory managers into
// events that can be counted or recorded.
package tracing

import (
	"time"

	"github.com/rs/xid"
	"github.com/sarchlab/vmsim/sim/hooking"
)

// NamedHookable represent something both have a name and can be hooked
type NamedHookable interface {
	Name() string
	hooking.Hookable
	InvokeHook(hooking.HookCtx)
}

// A list of hook poses for the hooks to apply to
var (
	HookPosFrameAllocate = &hooking.HookPos{Name: "FrameAllocate"}
	HookPosFrameEvict    = &hooking.HookPos{Name: "FrameEvict"}
	HookPosFrameFree     = &hooking.HookPos{Name: "FrameFree"}
	HookPosPageLoad      = &hooking.HookPos{Name: "PageLoad"}
	HookPosPageWriteBack = &hooking.HookPos{Name: "PageWriteBack"}
	HookPosSwapOut       = &hooking.HookPos{Name: "SwapOut"}
	HookPosSwapIn        = &hooking.HookPos{Name: "SwapIn"}
	HookPosSwapFree      = &hooking.HookPos{Name: "SwapFree"}
	HookPosPageFault     = &hooking.HookPos{Name: "PageFault"}
	HookPosMmap          = &hooking.HookPos{Name: "Mmap"}
	HookPosMunmap        = &hooking.HookPos{Name: "Munmap"}
)

// Notify fills the bookkeeping fields of the event and passes it to the hooks
// of the domain. It does nothing if no hook is attached.
func Notify(domain NamedHookable, pos *hooking.HookPos, event Event) {
	if domain.NumHooks() == 0 {
		return
	}

	domainMustHaveName(domain)

	event.ID = xid.New().String()
	event.Time = time.Now()
	event.Where = domain.Name()
	event.What = pos.Name

	ctx := hooking.HookCtx{
		Domain: domain,
		Pos:    pos,
		Item:   event,
	}
	domain.InvokeHook(ctx)
}

func domainMustHaveName(domain NamedHookable) {
	if domain.Name() == "" {
		panic("domain must have a name")
	}
}
