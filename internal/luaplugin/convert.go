package luaplugin

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// toGo converts a Lua value to a JSON-compatible Go value. Tables with keys
// 1..n become slices, other tables maps.
func toGo(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	}
	return nil
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	n := t.Len()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })
	if n > 0 && n == count {
		out := make([]any, n)
		for i := 1; i <= n; i++ {
			out[i-1] = toGoVisited(t.RawGetInt(i), visited)
		}
		return out
	}
	out := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprint(float64(kv))
		default:
			key = k.String()
		}
		out[key] = toGoVisited(v, visited)
	})
	return out
}

// toLua converts a decoded JSON value to Lua.
func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []string:
		return stringsTable(L, val)
	case []any:
		t := L.NewTable()
		for i, e := range val {
			t.RawSetInt(i+1, toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, toLua(L, val[k]))
		}
		return t
	}
	return lua.LString(fmt.Sprint(v))
}

func stringsTable(L *lua.LState, in []string) *lua.LTable {
	t := L.NewTable()
	for i, s := range in {
		t.RawSetInt(i+1, lua.LString(s))
	}
	return t
}

// callTable builds the argument table a Lua handler receives.
func callTable(L *lua.LState, call *hook.Call) *lua.LTable {
	t := L.NewTable()
	if call.Subreddit != "" {
		t.RawSetString("subreddit", lua.LString(call.Subreddit))
	}
	if s := call.Submission; s != nil {
		t.RawSetString("submission", submissionTable(L, s))
	}
	if c := call.Comment; c != nil {
		ct := L.NewTable()
		ct.RawSetString("id", lua.LString(c.ID))
		ct.RawSetString("fullname", lua.LString(c.Fullname()))
		ct.RawSetString("subreddit", lua.LString(c.Subreddit))
		ct.RawSetString("author", lua.LString(c.Author))
		ct.RawSetString("body", lua.LString(c.Body))
		ct.RawSetString("link_id", lua.LString(c.LinkID))
		ct.RawSetString("permalink", lua.LString(c.Permalink))
		ct.RawSetString("created", lua.LNumber(c.Created.Unix()))
		t.RawSetString("comment", ct)
	}
	if m := call.Message; m != nil {
		mt := L.NewTable()
		mt.RawSetString("id", lua.LString(m.ID))
		mt.RawSetString("author", lua.LString(m.Author))
		mt.RawSetString("subject", lua.LString(m.Subject))
		mt.RawSetString("body", lua.LString(m.Body))
		t.RawSetString("message", mt)
	}
	if r := call.Report; r != nil {
		rt := L.NewTable()
		rt.RawSetString("fullname", lua.LString(r.Fullname))
		rt.RawSetString("subreddit", lua.LString(r.Subreddit))
		rt.RawSetString("author", lua.LString(r.Author))
		rt.RawSetString("permalink", lua.LString(r.Permalink))
		rt.RawSetString("mod_reports", reportLines(L, r.ModReports))
		rt.RawSetString("user_reports", reportLines(L, r.UserReports))
		t.RawSetString("report", rt)
	}
	if e := call.Modlog; e != nil {
		et := L.NewTable()
		et.RawSetString("id", lua.LString(e.ID))
		et.RawSetString("subreddit", lua.LString(e.Subreddit))
		et.RawSetString("mod", lua.LString(e.Moderator))
		et.RawSetString("action", lua.LString(e.Action))
		et.RawSetString("target_author", lua.LString(e.TargetAuthor))
		et.RawSetString("target_fullname", lua.LString(e.TargetFullname))
		et.RawSetString("details", lua.LString(e.Details))
		t.RawSetString("modlog", et)
	}
	if c := call.Change; c != nil {
		ct := L.NewTable()
		ct.RawSetString("subreddit", lua.LString(c.Subreddit))
		ct.RawSetString("page", lua.LString(c.Page))
		ct.RawSetString("content", lua.LString(c.Content))
		ct.RawSetString("author", lua.LString(c.Author))
		ct.RawSetString("recent_edit", lua.LBool(c.RecentEdit))
		t.RawSetString("change", ct)
	}
	if call.Command != "" {
		t.RawSetString("command", lua.LString(call.Command))
		t.RawSetString("args", stringsTable(L, call.Args))
	}
	t.RawSetString("is_report", lua.LBool(call.IsReport))
	return t
}

func submissionTable(L *lua.LState, s *platform.Submission) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("id", lua.LString(s.ID))
	t.RawSetString("fullname", lua.LString(s.Fullname()))
	t.RawSetString("subreddit", lua.LString(s.Subreddit))
	t.RawSetString("author", lua.LString(s.Author))
	t.RawSetString("title", lua.LString(s.Title))
	t.RawSetString("body", lua.LString(s.Body))
	t.RawSetString("url", lua.LString(s.URL))
	t.RawSetString("permalink", lua.LString(s.Permalink))
	t.RawSetString("shortlink", lua.LString(s.Shortlink))
	t.RawSetString("flair", lua.LString(s.Flair))
	t.RawSetString("is_self", lua.LBool(s.IsSelf))
	t.RawSetString("created", lua.LNumber(s.Created.Unix()))
	return t
}

func reportLines(L *lua.LState, lines []platform.ReportLine) *lua.LTable {
	t := L.NewTable()
	for i, l := range lines {
		lt := L.NewTable()
		lt.RawSetString("reason", lua.LString(l.Reason))
		if l.Reporter != "" {
			lt.RawSetString("reporter", lua.LString(l.Reporter))
		}
		if l.Count > 0 {
			lt.RawSetString("count", lua.LNumber(l.Count))
		}
		t.RawSetInt(i+1, lt)
	}
	return t
}
