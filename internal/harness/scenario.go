package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run of the bot.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Bot is the bot account name; defaults to "modbot".
	Bot    string `yaml:"bot,omitempty"`
	Owner  string `yaml:"owner,omitempty"`
	Master string `yaml:"master,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`

	Subreddits []SubredditSetup `yaml:"subreddits"`
	// Builtins registers the compiled-in plugins.
	Builtins bool `yaml:"builtins,omitempty"`
	// Plugins are Lua scripts, relative to the scenario file.
	Plugins []string    `yaml:"plugins,omitempty"`
	Wiki    []WikiStep  `yaml:"wiki,omitempty"`
	Steps   []Step      `yaml:"steps"`
	Asserts []Assertion `yaml:"assertions"`
}

// SubredditSetup is a subreddit the bot moderates.
type SubredditSetup struct {
	Name string   `yaml:"name"`
	Mods []string `yaml:"mods,omitempty"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Submit  *SubmitStep  `yaml:"submit,omitempty"`
	Comment *CommentStep `yaml:"comment,omitempty"`
	Message *MessageStep `yaml:"message,omitempty"`
	Report  *ReportStep  `yaml:"report,omitempty"`
	Modlog  *ModlogStep  `yaml:"modlog,omitempty"`
	SetWiki *WikiStep    `yaml:"set_wiki,omitempty"`
	// Advance moves the clock, e.g. "90s".
	Advance string `yaml:"advance,omitempty"`
	// Poll only polls.
	Poll bool `yaml:"poll,omitempty"`
}

type SubmitStep struct {
	Subreddit string `yaml:"subreddit"`
	Author    string `yaml:"author"`
	Title     string `yaml:"title"`
	Body      string `yaml:"body,omitempty"`
}

// CommentStep replies to a submission. Link defaults to the last
// submission of the scenario.
type CommentStep struct {
	Subreddit string `yaml:"subreddit"`
	Author    string `yaml:"author"`
	Link      string `yaml:"link,omitempty"`
	Body      string `yaml:"body"`
}

// MessageStep delivers a message to the bot's inbox.
type MessageStep struct {
	Author  string `yaml:"author"`
	Subject string `yaml:"subject,omitempty"`
	Body    string `yaml:"body"`
}

// ReportStep reports an item. Item defaults to the last submission.
type ReportStep struct {
	Subreddit string        `yaml:"subreddit"`
	Item      string        `yaml:"item,omitempty"`
	Author    string        `yaml:"author,omitempty"`
	Mod       []ReportEntry `yaml:"mod,omitempty"`
	User      []ReportEntry `yaml:"user,omitempty"`
}

type ReportEntry struct {
	Reason   string `yaml:"reason"`
	Reporter string `yaml:"reporter,omitempty"`
	Count    int    `yaml:"count,omitempty"`
}

type ModlogStep struct {
	Subreddit    string `yaml:"subreddit"`
	Mod          string `yaml:"mod"`
	Action       string `yaml:"action"`
	TargetAuthor string `yaml:"target_author,omitempty"`
	Details      string `yaml:"details,omitempty"`
}

type WikiStep struct {
	Subreddit string `yaml:"subreddit"`
	Page      string `yaml:"page"`
	Content   string `yaml:"content"`
	Author    string `yaml:"author,omitempty"`
}

// Assertion checks the outcome of a scenario.
type Assertion struct {
	Type string `yaml:"type"`

	Hook      string   `yaml:"hook,omitempty"`
	Hooks     []string `yaml:"hooks,omitempty"`
	Subreddit string   `yaml:"subreddit,omitempty"`
	To        string   `yaml:"to,omitempty"`
	Page      string   `yaml:"page,omitempty"`
	Contains  string   `yaml:"contains,omitempty"`
	Item      string   `yaml:"item,omitempty"`

	// Storage location and expected value.
	Scope string `yaml:"scope,omitempty"`
	Doc   string `yaml:"doc,omitempty"`
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`

	Count *int `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertDispatched    = "dispatched"
	AssertDispatchOrder = "dispatch_order"
	AssertInboxCount    = "inbox_count"
	AssertModmailCount  = "modmail_count"
	AssertSentContains  = "sent_contains"
	AssertWikiContains  = "wiki_contains"
	AssertStorage       = "storage"
	AssertReported      = "reported"
)

// LoadScenario reads a scenario file. Unknown fields are rejected and
// plugin paths are resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i, p := range s.Plugins {
		if !filepath.IsAbs(p) {
			s.Plugins[i] = filepath.Join(base, p)
		}
	}
	return s, nil
}

// ParseScenario decodes and checks a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Subreddits) == 0 {
		return fmt.Errorf("subreddits list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Asserts) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, sub := range s.Subreddits {
		if sub.Name == "" {
			return fmt.Errorf("subreddits[%d]: name is required", i)
		}
	}
	for i, w := range s.Wiki {
		if w.Subreddit == "" || w.Page == "" {
			return fmt.Errorf("wiki[%d]: subreddit and page are required", i)
		}
	}
	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	for i := range s.Asserts {
		if err := validateAssertion(i, &s.Asserts[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step) error {
	set := 0
	for _, ok := range []bool{
		st.Submit != nil, st.Comment != nil, st.Message != nil, st.Report != nil,
		st.Modlog != nil, st.SetWiki != nil, st.Advance != "", st.Poll,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, set)
	}
	switch {
	case st.Submit != nil && st.Submit.Subreddit == "":
		return fmt.Errorf("steps[%d].submit: subreddit is required", i)
	case st.Comment != nil && st.Comment.Subreddit == "":
		return fmt.Errorf("steps[%d].comment: subreddit is required", i)
	case st.Message != nil && st.Message.Author == "":
		return fmt.Errorf("steps[%d].message: author is required", i)
	case st.Report != nil && len(st.Report.Mod)+len(st.Report.User) == 0:
		return fmt.Errorf("steps[%d].report: at least one mod or user report is required", i)
	case st.Modlog != nil && (st.Modlog.Mod == "" || st.Modlog.Action == ""):
		return fmt.Errorf("steps[%d].modlog: mod and action are required", i)
	case st.SetWiki != nil && (st.SetWiki.Subreddit == "" || st.SetWiki.Page == ""):
		return fmt.Errorf("steps[%d].set_wiki: subreddit and page are required", i)
	}
	if st.Advance != "" {
		d, err := time.ParseDuration(st.Advance)
		if err != nil || d <= 0 {
			return fmt.Errorf("steps[%d].advance: invalid duration %q", i, st.Advance)
		}
	}
	return nil
}

func validateAssertion(i int, a *Assertion) error {
	need := func(ok bool, what string) error {
		if !ok {
			return fmt.Errorf("assertions[%d]: %s is required for %s", i, what, a.Type)
		}
		return nil
	}
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	case AssertDispatched:
		if err := need(a.Hook != "", "hook"); err != nil {
			return err
		}
		return need(a.Count != nil, "count")
	case AssertDispatchOrder:
		return need(len(a.Hooks) > 1, "hooks (two or more)")
	case AssertInboxCount:
		if err := need(a.To != "", "to"); err != nil {
			return err
		}
		return need(a.Count != nil, "count")
	case AssertModmailCount:
		if err := need(a.Subreddit != "", "subreddit"); err != nil {
			return err
		}
		return need(a.Count != nil, "count")
	case AssertSentContains:
		if err := need(a.To != "", "to"); err != nil {
			return err
		}
		return need(a.Contains != "", "contains")
	case AssertWikiContains:
		if err := need(a.Subreddit != "" && a.Page != "", "subreddit and page"); err != nil {
			return err
		}
		return need(a.Contains != "", "contains")
	case AssertStorage:
		return need(a.Scope != "" && a.Doc != "" && a.Key != "", "scope, doc and key")
	case AssertReported:
		return need(a.Contains != "", "contains")
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
}
