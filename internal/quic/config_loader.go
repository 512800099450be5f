package quic

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// tunableConfig is the subset of BindingConfig the loader rewrites on a
// reload (MaxStatelessOperations, RetryMemoryLimit), as opposed to
// CidTotalLength or SupportedVersions, which are baked into already-minted
// CIDs and already-negotiated connections. A reloaded RetryMemoryLimit is
// read by every later Retry decision; a reloaded MaxStatelessOperations
// only applies to bindings initialized afterwards, since a binding's
// stateless tracker keeps the limit it was created with.
// retry_memory_limit_permil is in thousandths (capped at 1000) and is
// scaled to RetryMemoryLimit's 0-65535 range.
type tunableConfig struct {
	MaxStatelessOperations int    `yaml:"max_stateless_operations"`
	RetryMemoryLimitPermil uint16 `yaml:"retry_memory_limit_permil"`
}

// ConfigLoader watches a YAML file on disk and applies its tunable fields
// to a BindingConfig, the way nabbar-golib/viper layers fsnotify over a
// config read: one goroutine owns the watcher, each reload parses the whole
// file before writing any field (so a file that fails to parse is logged
// and changes nothing), and fields that are absent or zero keep their prior
// values. The fields are written without synchronization with readers.
type ConfigLoader struct {
	path string
	cfg  *BindingConfig
	log  *logrus.Entry

	watcher *fsnotify.Watcher
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewConfigLoader reads path once synchronously (so a Binding can be
// initialized with the file's settings applied from the start) and returns
// a loader ready to Watch for subsequent changes.
func NewConfigLoader(path string, cfg *BindingConfig, log *logrus.Entry) (*ConfigLoader, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &ConfigLoader{path: path, cfg: cfg, log: log}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *ConfigLoader) reload() error {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	var tc tunableConfig
	if err := yaml.Unmarshal(b, &tc); err != nil {
		return err
	}
	if tc.MaxStatelessOperations > 0 {
		l.cfg.MaxStatelessOperations = tc.MaxStatelessOperations
	}
	if tc.RetryMemoryLimitPermil > 0 {
		permil := uint32(minInt(int(tc.RetryMemoryLimitPermil), 1000))
		l.cfg.RetryMemoryLimit = uint16(permil * uint32(^uint16(0)) / 1000)
	}
	return nil
}

// Watch starts the fsnotify goroutine. Stop must be called to release the
// underlying watcher.
func (l *ConfigLoader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(l.path); err != nil {
		_ = w.Close()
		return err
	}
	l.watcher = w

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := l.reload(); err != nil {
					l.log.WithError(err).WithField("path", l.path).Warn("quic: config reload failed, keeping prior values")
				} else {
					l.log.WithField("path", l.path).Info("quic: binding config reloaded")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log.WithError(err).Warn("quic: config watcher error")
			}
		}
	}()
	return nil
}

// Stop closes the watcher and waits for its goroutine to exit.
func (l *ConfigLoader) Stop() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
	l.wg.Wait()
}
