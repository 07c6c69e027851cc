package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform/fake"
)

// AssertionError describes a failed assertion with the trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		buf.WriteString("\ntrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s", ev.Seq, ev.Step, ev.Kind, ev.Hook)
			if ev.Subreddit != "" {
				fmt.Fprintf(&buf, " /r/%s", ev.Subreddit)
			}
			if ev.Error != "" {
				fmt.Fprintf(&buf, " error=%q", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

func (h *Harness) check(a Assertion) error {
	switch a.Type {
	case AssertDispatched:
		return assertDispatched(h.result.Trace, a)
	case AssertDispatchOrder:
		return assertDispatchOrder(h.result.Trace, a)
	case AssertInboxCount:
		return h.assertSentCount(a, a.To)
	case AssertModmailCount:
		return h.assertSentCount(a, "/r/"+a.Subreddit)
	case AssertSentContains:
		return h.assertSentContains(a)
	case AssertWikiContains:
		return h.assertWikiContains(a)
	case AssertStorage:
		return h.assertStorage(a)
	case AssertReported:
		return h.assertReported(a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertDispatched counts the runs of a hook, optionally in one subreddit.
func assertDispatched(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Hook == a.Hook && (a.Subreddit == "" || strings.EqualFold(ev.Subreddit, a.Subreddit)) {
			n++
		}
	}
	if n == *a.Count {
		return nil
	}
	where := ""
	if a.Subreddit != "" {
		where = " in /r/" + a.Subreddit
	}
	return &AssertionError{
		Type:     AssertDispatched,
		Expected: fmt.Sprintf("%s to run %d time(s)%s", a.Hook, *a.Count, where),
		Actual:   fmt.Sprintf("%d time(s)", n),
		Trace:    trace,
	}
}

// assertDispatchOrder checks that the first runs of the hooks come in the
// listed order. Other hooks may run in between.
func assertDispatchOrder(trace []TraceEvent, a Assertion) error {
	first := make(map[string]int, len(a.Hooks))
	for _, ev := range trace {
		if _, seen := first[ev.Hook]; !seen {
			first[ev.Hook] = ev.Seq
		}
	}
	prev := 0
	for i, name := range a.Hooks {
		seq, ok := first[name]
		if !ok {
			return &AssertionError{
				Type:     AssertDispatchOrder,
				Expected: fmt.Sprintf("%s to run", name),
				Actual:   "never ran",
				Trace:    trace,
			}
		}
		if seq < prev {
			return &AssertionError{
				Type:     AssertDispatchOrder,
				Expected: fmt.Sprintf("%s after %s", name, a.Hooks[i-1]),
				Actual:   fmt.Sprintf("%s first ran at #%d, before #%d", name, seq, prev),
				Trace:    trace,
			}
		}
		prev = seq
	}
	return nil
}

func (h *Harness) assertSentCount(a Assertion, to string) error {
	n := len(h.platform.Sent(to))
	if n == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d message(s) to %s", *a.Count, to),
		Actual:   fmt.Sprintf("%d: %s", n, subjects(h.platform.Sent(to))),
	}
}

func (h *Harness) assertSentContains(a Assertion) error {
	sent := h.platform.Sent(a.To)
	for _, m := range sent {
		if strings.Contains(m.Subject, a.Contains) || strings.Contains(m.Body, a.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertSentContains,
		Expected: fmt.Sprintf("a message to %s containing %q", a.To, a.Contains),
		Actual:   fmt.Sprintf("%d message(s): %s", len(sent), subjects(sent)),
	}
}

func (h *Harness) assertWikiContains(a Assertion) error {
	content, ok := h.platform.WikiContent(a.Subreddit, a.Page)
	if ok && strings.Contains(content, a.Contains) {
		return nil
	}
	actual := "page does not exist"
	if ok {
		actual = fmt.Sprintf("content %q", content)
	}
	return &AssertionError{
		Type:     AssertWikiContains,
		Expected: fmt.Sprintf("/r/%s/wiki/%s to contain %q", a.Subreddit, a.Page, a.Contains),
		Actual:   actual,
	}
}

// assertStorage compares a stored value with the expected one through
// JSON, so YAML ints match stored float64s.
func (h *Harness) assertStorage(a Assertion) error {
	doc, err := h.docs.Document(a.Scope, a.Doc)
	if err != nil {
		return err
	}
	got, ok := doc.Get(a.Key)
	if !ok {
		return &AssertionError{
			Type:     AssertStorage,
			Expected: fmt.Sprintf("%s/%s[%s] = %v", a.Scope, a.Doc, a.Key, a.Value),
			Actual:   "key not set",
		}
	}
	if !jsonEqual(got, a.Value) {
		return &AssertionError{
			Type:     AssertStorage,
			Expected: fmt.Sprintf("%s/%s[%s] = %v", a.Scope, a.Doc, a.Key, a.Value),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func (h *Harness) assertReported(a Assertion) error {
	item := a.Item
	if item == "" {
		item = h.lastPost
	}
	reasons := h.platform.Reported(item)
	for _, r := range reasons {
		if strings.Contains(r, a.Contains) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertReported,
		Expected: fmt.Sprintf("%s reported with %q", item, a.Contains),
		Actual:   fmt.Sprintf("reasons %q", reasons),
	}
}

func jsonEqual(a, b any) bool {
	ja, err1 := json.Marshal(a)
	jb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	var va, vb any
	if json.Unmarshal(ja, &va) != nil || json.Unmarshal(jb, &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

func subjects(sent []fake.Sent) string {
	if len(sent) == 0 {
		return "none"
	}
	out := make([]string, len(sent))
	for i, m := range sent {
		out[i] = fmt.Sprintf("%q", m.Subject)
	}
	return strings.Join(out, ", ")
}
