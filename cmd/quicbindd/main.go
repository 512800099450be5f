// Command quicbindd runs a standalone QUIC UDP binding: it opens a socket,
// demultiplexes inbound datagrams, and answers unattributed short-header
// traffic with Stateless Reset. It registers no listener, so Initials and
// unsupported-version packets are dropped rather than answered with Retry
// or Version Negotiation. It has no handshake or crypto stack wired in
// (those are out of this module's scope), so it is only useful for
// exercising and observing the binding layer itself.
package main

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"net/netip"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/githubfollow/msquic/internal/quic"
)

var (
	listenAddr  string
	configPath  string
	logLevel    string
	workerCount int
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "quicbindd",
		Short: "Run a standalone QUIC UDP binding",
		Long:  "quicbindd opens a UDP socket and runs the binding's demultiplexing and stateless-response pipeline against it.",
		RunE:  runBind,
	}
	root.Flags().StringVar(&listenAddr, "listen", "0.0.0.0:4433", "UDP address to bind")
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file with hot-reloadable tunables")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logrus level (trace, debug, info, warn, error)")
	root.Flags().IntVar(&workerCount, "workers", 4, "number of worker goroutines")
	return root
}

func runBind(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	local, err := netip.ParseAddrPort(listenAddr)
	if err != nil {
		return fmt.Errorf("parsing --listen address: %w", err)
	}

	aead, err := retryAEAD()
	if err != nil {
		return fmt.Errorf("building retry AEAD: %w", err)
	}

	cfg := &quic.BindingConfig{
		SupportedVersions: nil, // defaults to QUIC v1 only
		StatelessRetryKey: func() cipher.AEAD { return aead },
	}

	if configPath != "" {
		loader, err := quic.NewConfigLoader(configPath, cfg, entry)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := loader.Watch(); err != nil {
			return fmt.Errorf("watching config: %w", err)
		}
		defer loader.Stop()
	}

	dp := quic.NewUDPDatapath(0)

	b, err := quic.InitializeBinding(
		dp,
		cfg,
		false, // exclusive
		true,  // serverOwned
		local,
		netip.AddrPort{},
		nil, // workers: constructed below and attached via RunServer
		quic.DefaultConnectionFactory{},
		entry,
		nil,
	)
	if err != nil {
		return fmt.Errorf("initializing binding: %w", err)
	}
	defer b.Uninitialize()

	entry.WithField("listen", listenAddr).WithField("workers", workerCount).Info("quicbindd: binding initialized")

	return quic.RunServer(b, workerCount)
}

// retryAEAD mints a process-lifetime Retry-token key. Restarting the
// process invalidates any tokens issued before the restart, which is
// acceptable: a client that retries sees a fresh Retry exchange.
func retryAEAD() (cipher.AEAD, error) {
	var key [chacha20poly1305.KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key[:])
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
