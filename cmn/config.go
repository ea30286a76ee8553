package cmn

import (
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
	jsoniter "github.com/json-iterator/go"
)

// Config is every recognized option from spec §6, plus the domains
// SPEC_FULL §12 makes concrete (separate entrylk/inodelk domains for the
// transaction engine vs. self-heal).
type Config struct {
	ChildCount         int           `json:"child_count"`
	ReadChild          int           `json:"read_child"` // -1 == unset
	ConsistentMetadata bool          `json:"consistent_metadata"`
	SelfHealDaemon     bool          `json:"self_heal_daemon"`
	LockHeal           bool          `json:"lock_heal"`
	GraceTimeout       time.Duration `json:"grace_timeout"`
	EntrylkDomain      string        `json:"entrylk_domain"`
	InodelkDomain      string        `json:"inodelk_domain"`
	HealLockDomain     string        `json:"heal_lock_domain"`

	HealBacklogPath string `json:"heal_backlog_path"`
	StatusAddr      string `json:"status_addr"`
	MetricsAddr     string `json:"metrics_addr"`
}

func Defaults() *Config {
	return &Config{
		ChildCount:         3,
		ReadChild:          -1,
		ConsistentMetadata: false,
		SelfHealDaemon:     true,
		LockHeal:           true,
		GraceTimeout:       10 * time.Second,
		EntrylkDomain:      "afr.txn",
		InodelkDomain:      "afr.txn",
		HealLockDomain:     "afr.heal",
		HealBacklogPath:    "/var/lib/afr/heal-backlog.db",
		StatusAddr:         "127.0.0.1:8911",
		MetricsAddr:        "127.0.0.1:8912",
	}
}

// RegisterFlags binds the config to command-line flags, in the style of
// the teacher's daemon bring-up (flag-parsed, then optionally overridden by
// a config file on disk).
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.ChildCount, "child-count", c.ChildCount, "number of mirrored children")
	fs.IntVar(&c.ReadChild, "read-child", c.ReadChild, "preferred read child index, -1 for none")
	fs.BoolVar(&c.ConsistentMetadata, "consistent-metadata", c.ConsistentMetadata, "require metadata-readable for arbitration")
	fs.BoolVar(&c.SelfHealDaemon, "self-heal-daemon", c.SelfHealDaemon, "run background self-heal crawl")
	fs.BoolVar(&c.LockHeal, "lock-heal", c.LockHeal, "lock_heal option (stored in Config; no component reads it)")
	fs.DurationVar(&c.GraceTimeout, "grace-timeout", c.GraceTimeout, "grace_timeout option (stored in Config; no component reads it)")
	fs.StringVar(&c.EntrylkDomain, "entrylk-domain", c.EntrylkDomain, "lock domain for entry transactions")
	fs.StringVar(&c.InodelkDomain, "inodelk-domain", c.InodelkDomain, "lock domain for inode transactions")
	fs.StringVar(&c.HealLockDomain, "heal-lock-domain", c.HealLockDomain, "lock domain used exclusively by self-heal")
	fs.StringVar(&c.HealBacklogPath, "heal-backlog-db", c.HealBacklogPath, "path to the persistent heal backlog")
	fs.StringVar(&c.StatusAddr, "status-addr", c.StatusAddr, "listen address for the status/notification endpoint")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "listen address for the Prometheus /metrics endpoint")
}

// LoadFile reads a HuJSON (commented, trailing-comma-tolerant JSON) config
// file and overlays it onto c. HuJSON is what calvinalkan-agent-task uses
// for its own operator-editable config; it reads naturally for an on-disk
// daemon config that humans hand-edit.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(std, c)
}
