package plugins

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

const mib = 1024 * 1024

func registerSystem(r *hook.Registry, _ Options) error {
	_, err := r.Command("system_status", func(ctx context.Context, call *hook.Call) error {
		return reply(ctx, call, "System status", systemStatus(call.Bot.Started(), call.Bot.Now()))
	},
		hook.WithPermission(hook.PermOwner),
		hook.WithDoc("Prints information about the system status"),
		source("system"),
	)
	return err
}

func systemStatus(started, now time.Time) string {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Duration(0)
	if !started.IsZero() {
		uptime = now.Sub(started).Round(time.Second)
	}
	return fmt.Sprintf("Uptime: %s\n\nGoroutines: %d\n\nMemory Usage (MB): %.1f\n\nSystem Memory (MB): %.1f",
		uptime,
		runtime.NumGoroutine(),
		float64(mem.Alloc)/mib,
		float64(mem.Sys)/mib,
	)
}
