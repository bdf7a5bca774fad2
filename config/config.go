// Package config is the CLI / configuration loader collaborator: it
// turns command-line flags into the parameters the server core, the
// auth pool, and the logging sink are constructed with. The core never
// parses flags itself — this is one of the four external collaborators
// the core specifies only by interface.
package config

import (
	"flag"
	"fmt"
)

// TriggerMode selects level- or edge-triggered readiness for the listen
// socket and for connection sockets independently, packed the way the
// original CLI's single "trigMode" flag does: 0 = both LT, 1 = listen LT
// / conn ET, 2 = listen ET / conn LT, 3 = both ET.
type TriggerMode int

const (
	TriggerLevelLevel TriggerMode = iota
	TriggerLevelEdge
	TriggerEdgeLevel
	TriggerEdgeEdge
)

// ListenEdgeTriggered reports whether the listen socket should be armed
// edge triggered under this mode.
func (m TriggerMode) ListenEdgeTriggered() bool { return m == TriggerEdgeLevel || m == TriggerEdgeEdge }

// ConnEdgeTriggered reports whether connection sockets should be armed
// edge triggered under this mode.
func (m TriggerMode) ConnEdgeTriggered() bool { return m == TriggerLevelEdge || m == TriggerEdgeEdge }

// ActorMode selects whether the loop dispatches I/O to the worker pool
// (Reactor) or performs it on the loop thread and only offloads
// parse/compose (Proactor).
type ActorMode int

const (
	Reactor ActorMode = iota
	Proactor
)

// Config holds everything the CLI surface configures.
type Config struct {
	Port        int
	Trigger     TriggerMode
	TimeoutMS   int
	OpenLinger  bool
	Actor       ActorMode
	Daemonize   bool

	SQLHost     string
	SQLPort     int
	SQLUser     string
	SQLPassword string
	SQLDBName   string
	SQLPoolSize int

	ThreadPoolSize int

	OpenLog      bool
	LogLevel     int
	LogQueueSize int
}

// Load parses os.Args[1:] (via the flag package's default command line)
// into a Config, mirroring the original CLI's flag names so deployment
// scripts carry over unchanged.
func Load() (*Config, error) {
	cfg := &Config{}

	var trigger, actor int

	flag.IntVar(&cfg.Port, "port", 1316, "listen port")
	flag.IntVar(&trigger, "trigmode", 0, "trigger mode: 0=LT/LT 1=LT/ET 2=ET/LT 3=ET/ET (listen/conn)")
	flag.IntVar(&cfg.TimeoutMS, "timeoutms", 60000, "connection idle timeout, milliseconds")
	flag.BoolVar(&cfg.OpenLinger, "linger", false, "enable SO_LINGER on the listen socket")
	flag.IntVar(&actor, "actor", 0, "actor mode: 0=Reactor 1=Proactor")
	flag.BoolVar(&cfg.Daemonize, "daemon", false, "run detached from the controlling terminal")

	flag.StringVar(&cfg.SQLHost, "sqlhost", "localhost", "SQL server host")
	flag.IntVar(&cfg.SQLPort, "sqlport", 3306, "SQL server port")
	flag.StringVar(&cfg.SQLUser, "sqluser", "root", "SQL username")
	flag.StringVar(&cfg.SQLPassword, "sqlpwd", "", "SQL password")
	flag.StringVar(&cfg.SQLDBName, "dbname", "evhttpd", "SQL database name")
	flag.IntVar(&cfg.SQLPoolSize, "sqlpoolnum", 12, "SQL connection pool size")

	flag.IntVar(&cfg.ThreadPoolSize, "threadnum", 8, "worker pool size")

	flag.BoolVar(&cfg.OpenLog, "openlog", true, "enable logging")
	flag.IntVar(&cfg.LogLevel, "loglevel", 1, "log level: 0=error 1=warn 2=info 3=debug")
	flag.IntVar(&cfg.LogQueueSize, "logquesize", 1024, "async log line queue depth")

	flag.Parse()

	cfg.Trigger = TriggerMode(trigger)
	cfg.Actor = ActorMode(actor)

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: port %d out of range [1024, 65535]", cfg.Port)
	}
	if trigger < 0 || trigger > 3 {
		return nil, fmt.Errorf("config: trigmode %d out of range [0, 3]", trigger)
	}
	if actor != 0 && actor != 1 {
		return nil, fmt.Errorf("config: actor %d must be 0 (Reactor) or 1 (Proactor)", actor)
	}

	return cfg, nil
}
