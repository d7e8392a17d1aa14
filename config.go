package ember

import (
	"fmt"
	"os"
	"time"

	"github.com/ember-bt/ember/internal/log"
	"github.com/ember-bt/ember/refill"
	"gopkg.in/yaml.v2"
)

// Config configures a Manager. Zero-valued fields are replaced by
// applyDefaults with the constants spec.md §4.2-§4.4 name.
type Config struct {
	RechokeInterval   time.Duration `yaml:"rechoke_interval"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	RefillPullDelay   time.Duration `yaml:"refill_pull_delay"`

	MaxOpenConnectionsPerTorrent int `yaml:"max_open_connections_per_torrent"`

	// ClientIDMarker is the substring identifying this implementation's
	// peer-id, used to weight the optimistic-unchoke slot toward peers
	// running the same client (spec.md §4.3 step 5).
	ClientIDMarker string `yaml:"client_id_marker"`

	Log log.Config `yaml:"log"`
}

// LoadConfig parses the YAML file at path into a Config. Defaults for
// zero-valued fields are applied by NewManager, not here, so a loaded
// Config round-trips the file's contents faithfully.
func LoadConfig(path string) (Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %s", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %s", err)
	}
	return c, nil
}

func (c Config) applyDefaults() Config {
	if c.RechokeInterval == 0 {
		c.RechokeInterval = 10 * time.Second
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 2 * time.Second
	}
	if c.RefillPullDelay == 0 {
		c.RefillPullDelay = refill.PullDelay
	}
	if c.MaxOpenConnectionsPerTorrent == 0 {
		c.MaxOpenConnectionsPerTorrent = 50
	}
	if c.ClientIDMarker == "" {
		c.ClientIDMarker = "-EM0001-"
	}
	return c
}
