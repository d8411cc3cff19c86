// /internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/keshon/lavamux/internal/lavalink"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the process configuration read from the environment.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	// ClientID is only needed without a gateway session (nodeprobe).
	ClientID   string `env:"CLIENT_ID"`
	NodesFile  string `env:"NODES_FILE" envDefault:"nodes.yaml"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile    string `env:"LOG_FILE"`
	StorePath  string `env:"STORE_PATH" envDefault:"./data/sessions.json"`
	StatusAddr string `env:"STATUS_ADDR" envDefault:":8090"`

	ClientName            string        `env:"CLIENT_NAME" envDefault:"lavamux"`
	Shards                int           `env:"SHARDS" envDefault:"1"`
	Selection             string        `env:"SELECTION" envDefault:"leastUsed"`
	LeastUsedMetric       string        `env:"LEAST_USED_METRIC" envDefault:"players"`
	LeastLoadedMetric     string        `env:"LEAST_LOADED_METRIC" envDefault:"cpu"`
	PositionInterval      time.Duration `env:"POSITION_UPDATE_INTERVAL" envDefault:"0s"`
	VolumeDecrementer     float64       `env:"VOLUME_DECREMENTER" envDefault:"1"`
	AutoPlay              bool          `env:"AUTOPLAY" envDefault:"false"`
	DefaultSearchPlatform string        `env:"DEFAULT_SEARCH_PLATFORM" envDefault:"ytsearch"`

	Nodes []NodeConfig `env:"-"`
}

// NodeConfig is one entry of the nodes file.
type NodeConfig struct {
	Identifier     string        `yaml:"identifier"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Password       string        `yaml:"password"`
	Secure         bool          `yaml:"secure"`
	Version        string        `yaml:"version"`
	UseVersionPath bool          `yaml:"useVersionPath"`
	RetryAmount    int           `yaml:"retryAmount"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	ResumeTimeout  time.Duration `yaml:"resumeTimeout"`
	Regions        []string      `yaml:"regions"`
}

type nodesFile struct {
	Nodes []NodeConfig `yaml:"nodes"`
}

// Load reads .env (when present), the environment and the nodes file.
// envFiles overrides the default ".env".
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	nodes, err := LoadNodes(cfg.NodesFile)
	if err != nil {
		return nil, err
	}
	cfg.Nodes = nodes

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadNodes reads the node list. ${VAR} references are expanded from the environment
// so passwords can stay out of the file.
func LoadNodes(path string) ([]NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nodes file: %w", err)
	}
	var f nodesFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("%w: nodes file %s: %v", ErrInvalid, path, err)
	}
	return f.Nodes, nil
}

// Validate fails fast on anything the manager would reject later.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes configured in %s", ErrInvalid, c.NodesFile)
	}
	if c.VolumeDecrementer < 0 || c.VolumeDecrementer > 1 {
		return fmt.Errorf("%w: VOLUME_DECREMENTER %v outside [0,1]", ErrInvalid, c.VolumeDecrementer)
	}
	if c.PositionInterval != 0 && (c.PositionInterval < 100*time.Millisecond || c.PositionInterval > 10*time.Second) {
		return fmt.Errorf("%w: POSITION_UPDATE_INTERVAL %s must be 0 or within [100ms, 10s]", ErrInvalid, c.PositionInterval)
	}

	seen := make(map[string]bool, len(c.Nodes))
	for i := range c.Nodes {
		opts := c.Nodes[i].Options()
		if err := opts.Validate(); err != nil {
			return fmt.Errorf("node #%d: %w", i, err)
		}
		if seen[opts.Identifier] {
			return fmt.Errorf("%w: duplicate node identifier %q", ErrInvalid, opts.Identifier)
		}
		seen[opts.Identifier] = true
	}
	return nil
}

// RequireToken is checked by binaries that open a gateway session.
func (c *Config) RequireToken() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("%w: DISCORD_TOKEN is not set", ErrInvalid)
	}
	return nil
}

// Options converts the entry into the core's descriptor.
func (n NodeConfig) Options() lavalink.NodeOptions {
	return lavalink.NodeOptions{
		Identifier:     n.Identifier,
		Host:           n.Host,
		Port:           n.Port,
		Password:       n.Password,
		Secure:         n.Secure,
		Version:        lavalink.Version(n.Version),
		UseVersionPath: n.UseVersionPath,
		RetryAmount:    n.RetryAmount,
		RetryDelay:     n.RetryDelay,
		RequestTimeout: n.RequestTimeout,
		ResumeTimeout:  n.ResumeTimeout,
		Regions:        n.Regions,
	}
}

// ManagerOptions builds the manager configuration. Host specific collaborators
// (send function, session store, logger) are filled in by the caller.
func (c *Config) ManagerOptions() lavalink.ManagerOptions {
	nodes := make([]lavalink.NodeOptions, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		nodes = append(nodes, n.Options())
	}
	return lavalink.ManagerOptions{
		ClientID:               c.ClientID,
		ClientName:             c.ClientName,
		Shards:                 c.Shards,
		Nodes:                  nodes,
		Selection:              lavalink.Selection(c.Selection),
		LeastUsedMetric:        lavalink.UsageMetric(c.LeastUsedMetric),
		LeastLoadedMetric:      lavalink.LoadMetric(c.LeastLoadedMetric),
		PositionUpdateInterval: c.PositionInterval,
		VolumeDecrementer:      c.VolumeDecrementer,
		AutoPlay:               c.AutoPlay,
		DefaultSearchPlatform:  c.DefaultSearchPlatform,
	}
}
