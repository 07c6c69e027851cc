// Package config loads the bot configuration from an INI or YAML file and
// validates it against an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Validation error codes.
const (
	ErrCodeRead     = "C001" // file unreadable
	ErrCodeFormat   = "C002" // unknown extension
	ErrCodeParse    = "C003" // INI or YAML syntax
	ErrCodeSchema   = "C004" // value rejected by the schema
	ErrCodeInternal = "C005" // schema did not compile
)

// Config is the bot configuration. Each struct is one INI section.
type Config struct {
	Reddit   Reddit   `ini:"reddit" yaml:"reddit" json:"reddit"`
	Bot      Bot      `ini:"config" yaml:"config" json:"config"`
	Owner    Owner    `ini:"owner" yaml:"owner" json:"owner"`
	Database Database `ini:"database" yaml:"database" json:"database"`
	Storage  Storage  `ini:"storage" yaml:"storage" json:"storage"`
	Debug    Debug    `ini:"debug" yaml:"debug" json:"debug"`
	Mode     Mode     `ini:"mode" yaml:"mode" json:"mode"`
	Console  Console  `ini:"console" yaml:"console" json:"console"`
	Notify   Notify   `ini:"notify" yaml:"notify" json:"notify"`
	Feeder   Feeder   `ini:"feeder" yaml:"feeder" json:"feeder"`
	Plugins  Plugins  `ini:"plugins" yaml:"plugins" json:"plugins"`
	Log      Log      `ini:"log" yaml:"log" json:"log"`
}

type Reddit struct {
	ClientID     string `ini:"client_id" yaml:"client_id" json:"client_id"`
	ClientSecret string `ini:"client_secret" yaml:"client_secret" json:"client_secret"`
	Username     string `ini:"username" yaml:"username" json:"username"`
	Password     string `ini:"password" yaml:"password" json:"password"`
	UserAgent    string `ini:"user_agent" yaml:"user_agent" json:"user_agent"`
}

type Bot struct {
	PluginFolders   []string `ini:"plugin_folders" delim:"," yaml:"plugin_folders" json:"plugin_folders"`
	MasterSubreddit string   `ini:"master_subreddit" yaml:"master_subreddit" json:"master_subreddit"`
	CommandPrefix   string   `ini:"command_prefix" yaml:"command_prefix" json:"command_prefix"`
}

type Owner struct {
	Name string `ini:"owner" yaml:"owner" json:"owner"`
}

type Database struct {
	// Path of the SQLite file; empty disables the database.
	Path string `ini:"path" yaml:"path" json:"path"`
}

type Storage struct {
	Root string `ini:"root" yaml:"root" json:"root"`
}

type Debug struct {
	Reload bool `ini:"reload" yaml:"reload" json:"reload"`
}

type Mode struct {
	Production bool `ini:"production" yaml:"production" json:"production"`
}

type Console struct {
	Enabled bool   `ini:"enabled" yaml:"enabled" json:"enabled"`
	Addr    string `ini:"addr" yaml:"addr" json:"addr"`
	User    string `ini:"user" yaml:"user" json:"user"`
}

type Notify struct {
	RedisAddr    string   `ini:"redis_addr" yaml:"redis_addr" json:"redis_addr"`
	RedisChannel string   `ini:"redis_channel" yaml:"redis_channel" json:"redis_channel"`
	Webhooks     []string `ini:"webhooks" delim:"," yaml:"webhooks" json:"webhooks"`
}

type Feeder struct {
	MaxWorkers     int  `ini:"max_workers" yaml:"max_workers" json:"max_workers"`
	ItemsPerWorker int  `ini:"items_per_worker" yaml:"items_per_worker" json:"items_per_worker"`
	WatchComments  bool `ini:"watch_comments" yaml:"watch_comments" json:"watch_comments"`
}

type Plugins struct {
	Archive bool `ini:"archive" yaml:"archive" json:"archive"`
	Forward bool `ini:"forward" yaml:"forward" json:"forward"`
}

type Log struct {
	Dir   string `ini:"dir" yaml:"dir" json:"dir"`
	Level string `ini:"level" yaml:"level" json:"level"`
}

// Default returns the settings used for keys a file leaves out.
func Default() Config {
	return Config{
		Reddit:  Reddit{UserAgent: "reddit-moderator-bot"},
		Bot:     Bot{CommandPrefix: "/"},
		Owner:   Owner{Name: "owner"},
		Storage: Storage{Root: "storage_data"},
		Console: Console{Addr: "127.0.0.1:5151", User: "console_user"},
		Notify:  Notify{RedisChannel: "modbot.events"},
		Feeder:  Feeder{MaxWorkers: 10, ItemsPerWorker: 99},
		Plugins: Plugins{Archive: true},
		Log:     Log{Dir: "logs", Level: "info"},
	}
}

// ValidationError is one problem found in a configuration file.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Errors is the list of problems returned by Load and Validate.
type Errors []ValidationError

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Load reads path, picking the format by extension (.ini, .cfg, .conf,
// .yaml, .yml), and validates the result. Relative folders in the file are
// resolved against the file's directory. live additionally requires reddit
// credentials.
func Load(path string, live bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, Errors{{Code: ErrCodeRead, Message: err.Error()}}
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, err
	}
	cfg.resolve(filepath.Dir(path))
	if err := Validate(cfg, live); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data over Default without validating it.
func Parse(data []byte, ext string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".ini", ".cfg", ".conf":
		f, err := ini.LoadSources(ini.LoadOptions{Insensitive: false}, data)
		if err != nil {
			return Config{}, Errors{{Code: ErrCodeParse, Message: err.Error()}}
		}
		if err := f.MapTo(&cfg); err != nil {
			return Config{}, Errors{{Code: ErrCodeParse, Message: err.Error()}}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, Errors{{Code: ErrCodeParse, Message: err.Error()}}
		}
	default:
		return Config{}, Errors{{Code: ErrCodeFormat, Message: fmt.Sprintf("unknown config format %q", ext)}}
	}
	cfg.Bot.PluginFolders = trimAll(cfg.Bot.PluginFolders)
	cfg.Notify.Webhooks = trimAll(cfg.Notify.Webhooks)
	return cfg, nil
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i, dir := range c.Bot.PluginFolders {
		c.Bot.PluginFolders[i] = abs(dir)
	}
	c.Storage.Root = abs(c.Storage.Root)
	c.Database.Path = abs(c.Database.Path)
	c.Log.Dir = abs(c.Log.Dir)
}

// Validate checks cfg against the schema and returns every violation.
func Validate(cfg Config, live bool) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Errors{{Code: ErrCodeInternal, Message: err.Error()}}
	}
	// nil slices encode as null, which no list constraint accepts.
	if cfg.Bot.PluginFolders == nil {
		cfg.Bot.PluginFolders = []string{}
	}
	if cfg.Notify.Webhooks == nil {
		cfg.Notify.Webhooks = []string{}
	}

	def := "#Config"
	if live {
		def = "#Live"
	}
	value := schema.LookupPath(cue.ParsePath(def)).Unify(ctx.Encode(cfg))
	err := value.Validate(cue.Concrete(true), cue.All())
	if err == nil {
		return nil
	}

	var out Errors
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		path := e.Path()
		for len(path) > 0 && strings.HasPrefix(path[0], "#") {
			path = path[1:]
		}
		out = append(out, ValidationError{
			Field:   strings.Join(path, "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrCodeSchema,
		})
	}
	if len(out) == 0 {
		out = Errors{{Code: ErrCodeSchema, Message: err.Error()}}
	}
	return out
}

// AsErrors unwraps the validation errors of err.
func AsErrors(err error) (Errors, bool) {
	var es Errors
	if errors.As(err, &es) {
		return es, true
	}
	return nil, false
}
