package luaplugin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

// ErrClosed is returned when a hook of an unloaded plugin runs.
var ErrClosed = errors.New("plugin unloaded")

// errNoCall is raised by bot functions that need the invoking call.
var errNoCall = errors.New("bot functions are only available inside hooks")

// plugin is one loaded script. Its LState is not safe for concurrent use,
// so every entry into Lua holds mu.
type plugin struct {
	path     string
	registry *hook.Registry
	log      *zap.SugaredLogger

	mu     sync.Mutex
	L      *lua.LState
	closed bool
	wikis  map[string]*hook.WikiPage
	// Set while a hook runs.
	ctx  context.Context
	call *hook.Call
}

func newPlugin(path string, registry *hook.Registry, log *zap.SugaredLogger) *plugin {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	// io, os, debug and package stay closed.
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	p := &plugin{
		path:     path,
		registry: registry,
		log:      log,
		L:        L,
		wikis:    make(map[string]*hook.WikiPage),
	}
	p.installHookTable()
	p.installBotTable()
	return p
}

// load runs the script, registering its hooks.
func (p *plugin) load() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return p.L.DoFile(p.path)
}

func (p *plugin) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.L.Close()
}

// handler wraps a Lua function as a hook.Handler.
func (p *plugin) handler(fn *lua.LFunction) hook.Handler {
	return func(ctx context.Context, call *hook.Call) (err error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return ErrClosed
		}
		p.ctx, p.call = ctx, call
		defer func() {
			p.ctx, p.call = nil, nil
			if r := recover(); r != nil {
				err = fmt.Errorf("lua panic: %v", r)
			}
		}()

		if err := p.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, callTable(p.L, call)); err != nil {
			return err
		}
		ret := p.L.Get(-1)
		p.L.Pop(1)
		// A hook may return an error message.
		if s, ok := ret.(lua.LString); ok && s != "" {
			return errors.New(string(s))
		}
		return nil
	}
}

func (p *plugin) installHookTable() {
	L := p.L
	mod := L.NewTable()
	for name, kind := range map[string]hook.Kind{
		"submission": hook.KindSubmission,
		"comment":    hook.KindComment,
		"periodic":   hook.KindPeriodic,
		"on_start":   hook.KindOnStart,
		"command":    hook.KindCommand,
		"modlog":     hook.KindModlog,
		"report":     hook.KindReport,
	} {
		L.SetField(mod, name, L.NewFunction(p.registerFunc(kind)))
	}
	L.SetField(mod, "register_wiki_page", L.NewFunction(p.registerWikiPage))
	L.SetGlobal("hook", mod)
}

// registerFunc returns hook.<kind>(name, fn[, opts]).
func (p *plugin) registerFunc(kind hook.Kind) lua.LGFunction {
	return func(L *lua.LState) int {
		name := L.CheckString(1)
		fn := L.CheckFunction(2)
		opts := L.OptTable(3, L.NewTable())

		hopts := []hook.Option{hook.FromSource(p.path)}
		if subs := optStrings(opts, "subreddits"); len(subs) > 0 {
			hopts = append(hopts, hook.WithSubreddits(subs...))
		}
		if page := optString(opts, "wiki"); page != "" {
			w, ok := p.wikis[page]
			if !ok {
				L.ArgError(3, fmt.Sprintf("wiki page %q is not registered by this plugin", page))
				return 0
			}
			hopts = append(hopts, hook.WithWiki(w))
		}
		if s := optNumber(opts, "period"); s > 0 {
			hopts = append(hopts, hook.Every(seconds(s)))
		}
		if s := optNumber(opts, "first"); s > 0 {
			hopts = append(hopts, hook.After(seconds(s)))
		}
		if c := optString(opts, "cron"); c != "" {
			hopts = append(hopts, hook.Cron(c))
		}
		if perm := optString(opts, "permission"); perm != "" {
			level, err := hook.ParsePermission(perm)
			if err != nil {
				L.ArgError(3, err.Error())
				return 0
			}
			hopts = append(hopts, hook.WithPermission(level))
		}
		if optBool(opts, "raw") {
			hopts = append(hopts, hook.Raw())
		}
		if optBool(opts, "threaded") {
			hopts = append(hopts, hook.Threaded())
		}
		if req := optStrings(opts, "requires"); len(req) > 0 {
			hopts = append(hopts, hook.Requires(req...))
		}
		if doc := optString(opts, "doc"); doc != "" {
			hopts = append(hopts, hook.WithDoc(doc))
		}

		f := &hook.Func{Name: name, Kind: kind, Handler: p.handler(fn)}
		for _, o := range hopts {
			o(f)
		}
		if err := p.registry.Add(f); err != nil {
			if errors.Is(err, hook.ErrDuplicateCommand) {
				p.log.Warnw("command ignored", "plugin", p.path, "error", err)
				return 0
			}
			L.RaiseError("register %s %s: %v", kind, name, err)
		}
		return 0
	}
}

// registerWikiPage implements hook.register_wiki_page(name, description[, opts]).
func (p *plugin) registerWikiPage(L *lua.LState) int {
	name := L.CheckString(1)
	desc := L.CheckString(2)
	opts := L.OptTable(3, L.NewTable())

	wopts := []hook.WikiOption{hook.WikiSource(p.path)}
	if subs := optStrings(opts, "subreddits"); len(subs) > 0 {
		wopts = append(wopts, hook.WikiSubreddits(subs...))
	}
	if s := optNumber(opts, "refresh"); s > 0 {
		wopts = append(wopts, hook.RefreshEvery(seconds(s)))
	}
	if optBool(opts, "read_only") {
		wopts = append(wopts, hook.ReadOnly())
	}
	if optBool(opts, "default_enabled") {
		wopts = append(wopts, hook.EnabledByDefault())
	}
	if doc := optString(opts, "documentation"); doc != "" {
		wopts = append(wopts, hook.WithDocumentation(doc))
	}
	if fn, ok := opts.RawGetString("notifier").(*lua.LFunction); ok {
		wopts = append(wopts, hook.WithNotifier(p.handler(fn)))
	}

	w, err := p.registry.RegisterWikiPage(name, desc, wopts...)
	if err != nil {
		L.RaiseError("register wiki page %s: %v", name, err)
		return 0
	}
	p.wikis[name] = w
	return 0
}

func (p *plugin) installBotTable() {
	L := p.L
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"log":          p.botLog,
		"owner":        p.botOwner,
		"send_pm":      p.botSendPM,
		"send_modmail": p.botSendModmail,
		"report":       p.botReport,
		"storage_get":  p.botStorageGet,
		"storage_set":  p.botStorageSet,
		"wiki_content": p.botWikiContent,
	})
	L.SetGlobal("bot", mod)
}

// current returns the invoking call. It raises a Lua error outside hooks.
func (p *plugin) current(L *lua.LState) (context.Context, hook.Bot) {
	if p.call == nil || p.call.Bot == nil {
		L.RaiseError("%v", errNoCall)
		return nil, nil
	}
	return p.ctx, p.call.Bot
}

// bot.log(message[, level])
func (p *plugin) botLog(L *lua.LState) int {
	msg := L.CheckString(1)
	switch strings.ToLower(L.OptString(2, "info")) {
	case "debug":
		p.log.Debugw(msg, "plugin", p.path)
	case "warn", "warning":
		p.log.Warnw(msg, "plugin", p.path)
	case "error":
		p.log.Errorw(msg, "plugin", p.path)
	default:
		p.log.Infow(msg, "plugin", p.path)
	}
	return 0
}

func (p *plugin) botOwner(L *lua.LState) int {
	_, bot := p.current(L)
	L.Push(lua.LString(bot.Owner()))
	return 1
}

// bot.send_pm(to, subject, body)
func (p *plugin) botSendPM(L *lua.LState) int {
	ctx, bot := p.current(L)
	if err := bot.Session().SendPM(ctx, L.CheckString(1), L.CheckString(2), L.CheckString(3), false); err != nil {
		L.RaiseError("send_pm: %v", err)
	}
	return 0
}

// bot.send_modmail(subreddit, subject, body)
func (p *plugin) botSendModmail(L *lua.LState) int {
	ctx, bot := p.current(L)
	if err := bot.Session().SendModmail(ctx, L.CheckString(1), L.CheckString(2), L.CheckString(3), false); err != nil {
		L.RaiseError("send_modmail: %v", err)
	}
	return 0
}

// bot.report(fullname, reason)
func (p *plugin) botReport(L *lua.LState) int {
	ctx, bot := p.current(L)
	if err := bot.Session().Report(ctx, L.CheckString(1), L.CheckString(2)); err != nil {
		L.RaiseError("report: %v", err)
	}
	return 0
}

// bot.storage_get(scope, name, key) returns the stored value or nil.
func (p *plugin) botStorageGet(L *lua.LState) int {
	_, bot := p.current(L)
	doc, err := bot.Storage(L.CheckString(1), L.CheckString(2))
	if err != nil {
		L.RaiseError("storage_get: %v", err)
		return 0
	}
	v, _ := doc.Get(L.CheckString(3))
	L.Push(toLua(L, v))
	return 1
}

// bot.storage_set(scope, name, key, value)
func (p *plugin) botStorageSet(L *lua.LState) int {
	_, bot := p.current(L)
	doc, err := bot.Storage(L.CheckString(1), L.CheckString(2))
	if err != nil {
		L.RaiseError("storage_set: %v", err)
		return 0
	}
	if err := doc.Set(L.CheckString(3), toGo(L.Get(4))); err != nil {
		L.RaiseError("storage_set: %v", err)
	}
	return 0
}

// bot.wiki_content(subreddit, page)
func (p *plugin) botWikiContent(L *lua.LState) int {
	ctx, bot := p.current(L)
	content, err := bot.WikiContent(ctx, L.CheckString(1), L.CheckString(2))
	if err != nil {
		L.RaiseError("wiki_content: %v", err)
		return 0
	}
	L.Push(lua.LString(content))
	return 1
}

func optString(t *lua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

func optNumber(t *lua.LTable, key string) float64 {
	if n, ok := t.RawGetString(key).(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func optBool(t *lua.LTable, key string) bool {
	return lua.LVAsBool(t.RawGetString(key))
}

// optStrings reads a list of strings; a single string is a list of one.
func optStrings(t *lua.LTable, key string) []string {
	switch v := t.RawGetString(key).(type) {
	case lua.LString:
		return []string{string(v)}
	case *lua.LTable:
		var out []string
		for i := 1; i <= v.Len(); i++ {
			if s, ok := v.RawGetInt(i).(lua.LString); ok {
				out = append(out, string(s))
			}
		}
		return out
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
