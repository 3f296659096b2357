package daemon

import (
	"fmt"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"
)

// logSettings are the logging settings part of the configuration file.
type logSettings struct {
	// File is the path to the log file. If empty, logs are written to
	// stdout.
	File string `yaml:"log_file"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `yaml:"log_max_backups"`

	// MaxSize is the maximum size of the log file before it gets rotated,
	// in megabytes.
	MaxSize int `yaml:"log_max_size"`

	// MaxAge is the maximum duration for retaining old log files, in days.
	MaxAge int `yaml:"log_max_age"`

	// Compress determines whether rotated log files are gzip-compressed.
	Compress bool `yaml:"log_compress"`

	// LocalTime determines whether log timestamps use local time.
	LocalTime bool `yaml:"log_localtime"`

	// Verbose enables debug-level logging.
	Verbose bool `yaml:"verbose"`
}

// dnsConfig is the DNS proxy part of the configuration file.
type dnsConfig struct {
	// Upstreams is the list of upstream resolver addresses tried at
	// random per forwarded query. Defaults to [8.8.8.8, 8.8.4.4] if
	// empty.
	Upstreams []string `yaml:"upstreams"`

	// BlocklistPath is where the blocklist file lives.
	BlocklistPath string `yaml:"blocklist_path"`
}

// sysdnsConfig is the System DNS Configurator part of the configuration
// file.
type sysdnsConfig struct {
	// Interface overrides auto-detection of the managed network
	// interface or service.
	Interface string `yaml:"interface"`

	// BackupPath is where the backed-up original resolver configuration
	// is persisted.
	BackupPath string `yaml:"backup_path"`

	// Verify makes Configure re-read and confirm resolvers after
	// settling.
	Verify bool `yaml:"verify"`
}

// controlConfig is the Control Interface part of the configuration file.
type controlConfig struct {
	// Addr is the loopback address the control HTTP server binds to.
	Addr string `yaml:"addr"`
}

// metricsConfig is the Prometheus exposition part of the configuration
// file.
type metricsConfig struct {
	// Addr is the loopback address the metrics HTTP server binds to. Empty
	// disables the metrics endpoint entirely.
	Addr string `yaml:"addr"`
}

// configuration is the daemon's on-disk YAML configuration.
type configuration struct {
	DNS     dnsConfig     `yaml:"dns"`
	SysDNS  sysdnsConfig  `yaml:"sysdns"`
	Control controlConfig `yaml:"control"`
	Metrics metricsConfig `yaml:"metrics"`
	Log     logSettings   `yaml:"log"`

	// PidFile is where the single-instance PID record lives.
	PidFile string `yaml:"pid_file"`

	// StateFile is where the persisted daemon state record lives.
	StateFile string `yaml:"state_file"`

	// DryRun disables all system changes by default; --dry-run on the
	// command line forces it on regardless of this value.
	DryRun bool `yaml:"dry_run"`
}

// defaultConfig returns the configuration used when no file is present or
// a field is left at its zero value after loading one.
func defaultConfig() (c configuration) {
	return configuration{
		DNS: dnsConfig{
			BlocklistPath: "/etc/netshieldd/blocklist.json",
		},
		SysDNS: sysdnsConfig{
			BackupPath: "/var/lib/netshieldd/dns-backup.json",
			Verify:     true,
		},
		Control: controlConfig{
			Addr: "127.0.0.1:5370",
		},
		Metrics: metricsConfig{
			Addr: "127.0.0.1:5371",
		},
		Log: logSettings{
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		PidFile:   "/var/run/netshieldd.pid",
		StateFile: "/var/lib/netshieldd/state.json",
	}
}

// loadConfig reads and parses the YAML configuration at path, falling back
// to defaultConfig entirely when path does not exist. An existing but
// unparseable file is an error: the daemon config is part of its own
// crash-safety boundary and a corrupt file should never silently fall back.
func loadConfig(path string) (c configuration, err error) {
	c = defaultConfig()

	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	} else if err != nil {
		return c, fmt.Errorf("reading config %q: %w", path, err)
	}

	if err = yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing config %q: %w", path, err)
	}

	return c, nil
}
