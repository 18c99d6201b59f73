// Package config loads sqlited's tunables from sqlited.yaml, environment
// variables, and CLI flags via github.com/spf13/viper, and hot-reloads the
// host allow-list file via github.com/fsnotify/fsnotify, per spec.md §6's
// JVM-property-shaped tunable list and §4.6's Server-owned allow list.
package config

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/sqlited/sqlited/internal/processor"
	"github.com/sqlited/sqlited/internal/srverr"
	"github.com/sqlited/sqlited/internal/worker"
)

// readHostLines reads one allow-listed host per line from path, skipping
// blank lines and '#'-prefixed comments.
func readHostLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, srverr.Wrap(srverr.KindIOError, err, "open allow-list file %q", path)
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, srverr.Wrap(srverr.KindIOError, err, "scan allow-list file %q", path)
	}
	return hosts, nil
}

// Keys, derived from spec.md §6's literal JVM-property names by dropping
// the common prefix and lowercasing; the remaining dots are kept as
// viper's nested-key delimiter.
const (
	KeyWorkerIORatio           = "worker.ioratio"
	KeyWorkerBusyMinWait       = "worker.busyminwait"
	KeyProcessorInitReadBuffer = "processor.initreadbuffer"
	KeyProcessorMaxReadBuffer  = "processor.maxreadbuffer"
	KeyProcessorMaxWriteTimes  = "processor.maxwritetimes"
	KeyProcessorMaxWriteQueue  = "processor.maxwritequeue"
	KeyProcessorMaxWriteBuffer = "processor.maxwritebuffer"
	KeyWorkerCount             = "worker.count"
	KeyMaxConns                = "server.maxconns"
	KeyHost                    = "server.host"
	KeyPort                    = "server.port"
	KeyDataDir                 = "server.datadir"
	KeyAllowListPath           = "server.allowlist"
)

// New builds a *viper.Viper preloaded with spec.md §6's defaults, reading
// sqlited.yaml from configPath (if non-empty) and SQLITED_-prefixed env
// vars, the way autobrr-qui's own config loading layers env over file over
// defaults.
func New(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault(KeyWorkerIORatio, 50)
	v.SetDefault(KeyWorkerBusyMinWait, "100ms")
	v.SetDefault(KeyProcessorInitReadBuffer, 4096)
	v.SetDefault(KeyProcessorMaxReadBuffer, 65536)
	v.SetDefault(KeyProcessorMaxWriteTimes, 1024)
	v.SetDefault(KeyProcessorMaxWriteQueue, 1024)
	v.SetDefault(KeyProcessorMaxWriteBuffer, 4096)
	v.SetDefault(KeyWorkerCount, 4)
	v.SetDefault(KeyMaxConns, 4096)
	v.SetDefault(KeyHost, "0.0.0.0")
	v.SetDefault(KeyPort, 3306)
	v.SetDefault(KeyDataDir, "./data")

	v.SetEnvPrefix("SQLITED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, srverr.Wrap(srverr.KindIOError, err, "read config file %q", configPath)
			}
		}
	}

	return v, nil
}

// ProcessorTunables builds processor.Tunables from the loaded config.
func ProcessorTunables(v *viper.Viper) processor.Tunables {
	return processor.Tunables{
		InitReadBuffer: v.GetInt(KeyProcessorInitReadBuffer),
		MaxReadBuffer:  v.GetInt(KeyProcessorMaxReadBuffer),
		MaxWriteTimes:  v.GetInt(KeyProcessorMaxWriteTimes),
		MaxWriteQueue:  v.GetInt(KeyProcessorMaxWriteQueue),
		MaxWriteBuffer: v.GetInt(KeyProcessorMaxWriteBuffer),
		BusyTimeout:    v.GetDuration("processor.busytimeout"),
	}
}

// WorkerTunables builds worker.Tunables from the loaded config.
func WorkerTunables(v *viper.Viper) worker.Tunables {
	tun := worker.DefaultTunables()
	tun.IORatio = v.GetInt(KeyWorkerIORatio)
	tun.BusyMinWait = v.GetDuration(KeyWorkerBusyMinWait)
	tun.MaxConns = v.GetInt(KeyMaxConns)
	return tun
}

// AllowList is the Server-owned host → permitted map from spec.md §4.6,
// safe for concurrent reads from accept-loop goroutines and reloads from
// the fsnotify watcher goroutine.
type AllowList struct {
	mu      sync.RWMutex
	allowed map[string]bool
	allowAll bool
}

// NewAllowList loads hosts from path, one per line, skipping blank lines
// and '#'-prefixed comments. An empty path means allow-all.
func NewAllowList(path string) (*AllowList, error) {
	al := &AllowList{allowed: make(map[string]bool)}
	if path == "" {
		al.allowAll = true
		return al, nil
	}
	if err := al.reload(path); err != nil {
		return nil, err
	}
	return al, nil
}

func (al *AllowList) reload(path string) error {
	hosts, err := readHostLines(path)
	if err != nil {
		return err
	}
	next := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		next[h] = true
	}
	al.mu.Lock()
	al.allowed = next
	al.mu.Unlock()
	return nil
}

// Allowed reports whether host may connect.
func (al *AllowList) Allowed(host string) bool {
	al.mu.RLock()
	defer al.mu.RUnlock()
	if al.allowAll {
		return true
	}
	return al.allowed[host]
}

// Watch starts an fsnotify watcher on path that reloads the allow list on
// every write event, per SPEC_FULL.md's "host allow-list hot reload"
// supplemented feature. The returned stop func closes the watcher.
func (al *AllowList) Watch(path string, log zerolog.Logger) (stop func(), err error) {
	if path == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, srverr.Wrap(srverr.KindIOError, err, "create allow-list watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, srverr.Wrap(srverr.KindIOError, err, "watch allow-list file %q", path)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := al.reload(path); err != nil {
						log.Warn().Err(err).Str("path", path).Msg("allow-list reload failed")
					} else {
						log.Info().Str("path", path).Msg("allow-list reloaded")
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(werr).Msg("allow-list watcher error")
			case <-done:
				watcher.Close()
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
