package wiki

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/ini.v1"

	"github.com/gbionescu/reddit-moderator-bot/internal/hook"
)

const (
	// ControlPanelPage is the wiki page holding a subreddit's plugin
	// switches.
	ControlPanelPage = "control_panel"
	// EnabledSection lists enabled plugins as key-only lines.
	EnabledSection = "Enabled Plugins"
)

const codeIndent = "    "

// Indent renders content as a markdown code block so the wiki shows it
// verbatim.
func Indent(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = codeIndent + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// Unindent strips the code block indentation added by Indent.
func Unindent(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, codeIndent):
			lines[i] = l[len(codeIndent):]
		case strings.HasPrefix(l, "\t"):
			lines[i] = l[1:]
		}
	}
	return strings.Join(lines, "\n")
}

// Parse reads INI content from a wiki page, indented or not. Key-only lines
// parse as boolean keys.
func Parse(content string) (*ini.File, error) {
	text := norm.NFC.String(Unindent(content))
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: true,
	}, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("parse wiki content: %w", err)
	}
	return f, nil
}

// EnabledPlugins returns the plugin names listed in the [Enabled Plugins]
// section, in order.
func EnabledPlugins(f *ini.File) []string {
	if f == nil || !f.HasSection(EnabledSection) {
		return nil
	}
	return f.Section(EnabledSection).KeyStrings()
}

// Panel describes a control panel to render.
type Panel struct {
	Subreddit     string
	BotName       string
	CommandPrefix string
	// Pages available on the subreddit.
	Pages []*hook.WikiPage
}

// Render builds the control panel content, already indented. Plugins listed
// in current stay enabled and default-enabled plugins are added. It also
// returns the resulting enabled plugin names.
func Render(p Panel, current *ini.File) (string, []string) {
	pages := uniquePages(p.Pages)

	enabled := EnabledPlugins(current)
	seen := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		seen[name] = true
	}
	for _, page := range pages {
		if page.DefaultEnabled && !seen[page.Name] {
			enabled = append(enabled, page.Name)
			seen[page.Name] = true
		}
	}

	prefix := p.CommandPrefix
	if prefix == "" {
		prefix = "/"
	}
	cmd := url.PathEscape(prefix + "update_control_panel --subreddit " + p.Subreddit)

	var b strings.Builder
	b.WriteString("###\n")
	b.WriteString("# A plugin can be enabled by adding it in the [Enabled Plugins] section.\n")
	b.WriteString("# After changing the control panel wiki, send a message to the bot through the following link:\n")
	fmt.Fprintf(&b, "# https://www.reddit.com/message/compose?to=%s&subject=ping&message=%s\n", p.BotName, cmd)
	fmt.Fprintf(&b, "[%s]\n", EnabledSection)
	for _, name := range enabled {
		b.WriteString(name + "\n")
	}

	b.WriteString("\n###### Available plugins for this subreddit\n")
	for _, page := range pages {
		status := "Disabled"
		if seen[page.Name] {
			status = "Enabled"
		}
		fmt.Fprintf(&b, "\n### %s\n", page.Name)
		fmt.Fprintf(&b, "# %s\n", page.Description)
		fmt.Fprintf(&b, "# https://www.reddit.com/r/%s/wiki/%s\n", p.Subreddit, page.Name)
		fmt.Fprintf(&b, "# Current status: %s\n", status)
	}

	return Indent(b.String()), enabled
}

// uniquePages returns pages sorted by name, one per name. A writable
// registration wins over read-only ones of the same name.
func uniquePages(in []*hook.WikiPage) []*hook.WikiPage {
	byName := make(map[string]*hook.WikiPage, len(in))
	for _, p := range in {
		if prev, ok := byName[p.Name]; !ok || (!prev.Writable() && p.Writable()) {
			byName[p.Name] = p
		}
	}
	out := make([]*hook.WikiPage, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
