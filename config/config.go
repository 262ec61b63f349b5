package config

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fernwer/Duet/batch"
	"github.com/fernwer/Duet/engine"
	"github.com/fernwer/Duet/kernel"
	"github.com/fernwer/Duet/payload"
	"gopkg.in/ini.v1"
)

// Config holds the configuration of the proxy and kernel processes
type Config struct {
	Scheduler SchedulerConfig
	Kernel    KernelConfig
	Transport TransportConfig
	Metrics   MetricsConfig
}

// SchedulerConfig holds the batch scheduler settings
type SchedulerConfig struct {
	MaxBatchSize    int
	Window          time.Duration
	DryRun          bool
	UseMQO          bool
	Debug           bool // send batches to the debug entry instead of dispatch
	AutoScanHint    bool
	DispatchTimeout time.Duration
}

// KernelConfig holds the kernel process settings
type KernelConfig struct {
	Listen        string
	Driver        string
	DSN           string
	PlanCacheSize int
	ExecTimeout   time.Duration
	Isolation     sql.IsolationLevel
	MaxOpenConns  int
	TrimMemory    bool
}

// TransportConfig holds the kernel addresses the proxy calls
type TransportConfig struct {
	Primary        string   // Primary kernel address
	Kernels        []string // Fallback kernel addresses
	HealthInterval time.Duration
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Listen string
}

// Load reads configuration from an INI file with environment variable overrides
func Load(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return parse(cfg)
}

// Default returns the configuration used when no file is given
func Default() *Config {
	config, _ := parse(ini.Empty())
	return config
}

func parse(cfg *ini.File) (*Config, error) {
	sched := cfg.Section("scheduler")
	kern := cfg.Section("kernel")
	trans := cfg.Section("transport")

	isolation, err := ParseIsolation(kern.Key("isolation").MustString("default"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Scheduler: SchedulerConfig{
			MaxBatchSize:    sched.Key("max_batch_size").MustInt(100),
			Window:          time.Duration(sched.Key("window_ms").MustInt(10)) * time.Millisecond,
			DryRun:          sched.Key("dry_run").MustBool(false),
			UseMQO:          sched.Key("use_mqo").MustBool(true),
			Debug:           sched.Key("debug").MustBool(false),
			AutoScanHint:    sched.Key("auto_scan_hint").MustBool(false),
			DispatchTimeout: time.Duration(sched.Key("dispatch_timeout_ms").MustInt(30000)) * time.Millisecond,
		},
		Kernel: KernelConfig{
			Listen:        kern.Key("listen").MustString(":5544"),
			Driver:        kern.Key("driver").MustString("postgres"),
			DSN:           kern.Key("dsn").String(),
			PlanCacheSize: kern.Key("plan_cache_size").MustInt(kernel.DefaultPlanCacheSize),
			ExecTimeout:   time.Duration(kern.Key("exec_timeout_ms").MustInt(30000)) * time.Millisecond,
			Isolation:     isolation,
			MaxOpenConns:  kern.Key("max_open_conns").MustInt(0),
			TrimMemory:    kern.Key("trim_memory").MustBool(false),
		},
		Transport: TransportConfig{
			Primary:        trans.Key("primary").MustString("127.0.0.1:5544"),
			HealthInterval: time.Duration(trans.Key("health_interval_s").MustInt(10)) * time.Second,
		},
		Metrics: MetricsConfig{
			Listen: cfg.Section("metrics").Key("listen").MustString(":9090"),
		},
	}

	// Parse fallback kernels (kernel1, kernel2, etc.)
	for i := 1; i <= 10; i++ { // Support up to 10 kernels
		if addr := trans.Key("kernel" + strconv.Itoa(i)).String(); addr != "" {
			config.Transport.Kernels = append(config.Transport.Kernels, addr)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("DUET_KERNEL_DSN"); v != "" {
		config.Kernel.DSN = v
	}
	if v := os.Getenv("DUET_KERNEL_DRIVER"); v != "" {
		config.Kernel.Driver = v
	}
	if v := os.Getenv("DUET_KERNEL_LISTEN"); v != "" {
		config.Kernel.Listen = v
	}
	if v := os.Getenv("DUET_TRANSPORT_PRIMARY"); v != "" {
		config.Transport.Primary = v
	}
	if v := os.Getenv("DUET_METRICS_LISTEN"); v != "" {
		config.Metrics.Listen = v
	}

	return config, nil
}

// ParseIsolation maps an isolation name such as "repeatable_read" to its
// database/sql level. "default" leaves the choice to the driver.
func ParseIsolation(name string) (sql.IsolationLevel, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_") {
	case "", "default":
		return sql.LevelDefault, nil
	case "read_uncommitted":
		return sql.LevelReadUncommitted, nil
	case "read_committed":
		return sql.LevelReadCommitted, nil
	case "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	}
	return sql.LevelDefault, fmt.Errorf("unknown isolation level %q", name)
}

// BatchOptions converts the scheduler section to a batch.Config
func (c *Config) BatchOptions() batch.Config {
	bc := batch.DefaultConfig()
	bc.MaxBatchSize = c.Scheduler.MaxBatchSize
	bc.Window = c.Scheduler.Window
	bc.DryRun = c.Scheduler.DryRun
	bc.UseMQO = c.Scheduler.UseMQO
	bc.AutoScanHint = c.Scheduler.AutoScanHint
	bc.DispatchTimeout = c.Scheduler.DispatchTimeout
	if c.Scheduler.Debug {
		bc.Entry = payload.EntryDebug
	}
	return bc
}

// KernelOptions converts the kernel section to a kernel.Config
func (c *Config) KernelOptions() kernel.Config {
	kc := kernel.DefaultConfig()
	kc.Driver = c.Kernel.Driver
	kc.DSN = c.Kernel.DSN
	kc.PlanCacheSize = c.Kernel.PlanCacheSize
	kc.ExecTimeout = c.Kernel.ExecTimeout
	kc.TrimMemory = c.Kernel.TrimMemory
	kc.Engine = engine.Options{
		Isolation:    c.Kernel.Isolation,
		MaxOpenConns: c.Kernel.MaxOpenConns,
	}
	return kc
}
