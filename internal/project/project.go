// Package project locates a runway project on disk and loads its
// configuration from the .runway control folder.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingoftac/runway/internal/models"
	"github.com/kingoftac/runway/internal/supervisor"
)

const (
	ControlDirName = ".runway"
	ConfFileName   = "conf.yaml"
	DefaultPort    = 8080
)

var (
	ErrNotFound      = errors.New("not inside a runway project (no .runway folder found)")
	ErrAlreadyExists = errors.New("project already initialized")
)

type CommandConf struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	// Dir is relative to the project root.
	Dir string `yaml:"dir,omitempty"`
}

type SiteConf struct {
	Title string `yaml:"title"`
}

type ServerConf struct {
	Port  int         `yaml:"port"`
	Start CommandConf `yaml:"start"`
	Stop  CommandConf `yaml:"stop"`
}

type Conf struct {
	Site   SiteConf   `yaml:"site"`
	Server ServerConf `yaml:"server"`
}

func DefaultConf(title string) Conf {
	c := Conf{Site: SiteConf{Title: title}}
	c.applyDefaults()
	return c
}

func (c *Conf) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Start.Command == "" {
		c.Server.Start = CommandConf{
			Command: "./gradlew",
			Args:    []string{"-PkobwebEnv=${ENV}", "kobwebStart", "-t"},
		}
	}
	if c.Server.Stop.Command == "" {
		c.Server.Stop = CommandConf{
			Command: "./gradlew",
			Args:    []string{"kobwebStop"},
		}
	}
}

func (c Conf) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if err := c.Server.Start.validate(); err != nil {
		return fmt.Errorf("invalid start command: %w", err)
	}
	if err := c.Server.Stop.validate(); err != nil {
		return fmt.Errorf("invalid stop command: %w", err)
	}
	return nil
}

func (c CommandConf) validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("command is required")
	}
	for k := range c.Env {
		if k == "" || strings.Contains(k, "=") {
			return fmt.Errorf("invalid env key %q", k)
		}
	}
	if c.Dir != "" && !filepath.IsLocal(c.Dir) {
		return fmt.Errorf("dir %q must stay inside the project", c.Dir)
	}
	return nil
}

// LoadConf reads and validates a conf.yaml, filling in defaults for anything
// left out.
func LoadConf(path string) (Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Conf{}, fmt.Errorf("failed to read config: %w", err)
	}

	var c Conf
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Conf{}, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return Conf{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

type Project struct {
	Root       string
	ControlDir string
	Conf       Conf
}

// Find walks up from dir to the first directory holding a .runway folder.
func Find(dir string) (*Project, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	for {
		control := filepath.Join(dir, ControlDirName)
		if info, err := os.Stat(control); err == nil && info.IsDir() {
			return load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotFound
		}
		dir = parent
	}
}

func load(root string) (*Project, error) {
	p := &Project{
		Root:       root,
		ControlDir: filepath.Join(root, ControlDirName),
	}

	confPath := filepath.Join(p.ControlDir, ConfFileName)
	conf, err := LoadConf(confPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("No conf.yaml, using defaults", "component", "project", "root", root)
		conf = DefaultConf(filepath.Base(root))
	case err != nil:
		return nil, err
	}
	p.Conf = conf

	slog.Debug("Loaded project", "component", "project", "root", root, "port", conf.Server.Port)
	return p, nil
}

// Init creates the control folder and a default conf.yaml in dir.
func Init(dir, title string) (*Project, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if title == "" {
		title = filepath.Base(root)
	}

	controlDir := filepath.Join(root, ControlDirName)
	confPath := filepath.Join(controlDir, ConfFileName)
	if _, err := os.Stat(confPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, confPath)
	}

	if err := os.MkdirAll(controlDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create control folder: %w", err)
	}

	conf := DefaultConf(title)
	data, err := yaml.Marshal(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(confPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}

	slog.Info("Initialized project", "component", "project", "root", root)
	return &Project{Root: root, ControlDir: controlDir, Conf: conf}, nil
}

func (p *Project) Name() string {
	if p.Conf.Site.Title != "" {
		return p.Conf.Site.Title
	}
	return filepath.Base(p.Root)
}

func (p *Project) LogPath() string {
	return filepath.Join(p.ControlDir, "logs", "runway.log")
}

// StartCommand is the configured start command for env, with ${ENV} and
// ${PORT} substituted.
func (p *Project) StartCommand(env models.Environment) supervisor.Command {
	return p.command(p.Conf.Server.Start, env)
}

func (p *Project) StopCommand(env models.Environment) supervisor.Command {
	return p.command(p.Conf.Server.Stop, env)
}

func (p *Project) command(c CommandConf, env models.Environment) supervisor.Command {
	vars := map[string]string{
		"ENV":  string(env),
		"PORT": strconv.Itoa(p.Conf.Server.Port),
	}

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = interpolateVars(a, vars)
	}

	childEnv := []string{
		"RUNWAY_ENV=" + vars["ENV"],
		"RUNWAY_PORT=" + vars["PORT"],
	}
	for k, v := range c.Env {
		childEnv = append(childEnv, k+"="+interpolateVars(v, vars))
	}

	return supervisor.Command{
		Name: interpolateVars(c.Command, vars),
		Args: args,
		Dir:  filepath.Join(p.Root, c.Dir),
		Env:  childEnv,
	}
}

func interpolateVars(s string, vars map[string]string) string {
	result := s
	for k, v := range vars {
		result = strings.ReplaceAll(result, "${"+k+"}", v)
	}
	return result
}
