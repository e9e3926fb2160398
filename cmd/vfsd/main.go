// Command vfsd runs the VFS broker daemon: it serves file-operation
// requests on a unix socket and delegates them to the mounted
// backends.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "github.com/govfsd/vfsd/backend/all"
	"github.com/govfsd/vfsd/backend"
	"github.com/govfsd/vfsd/daemon"
	"github.com/govfsd/vfsd/internal/flog"
)

var (
	configPath string
	listenPath string
	workers    int
	logLevel   string
)

var root = &cobra.Command{
	Use:   "vfsd",
	Short: "Virtual filesystem broker daemon",
	Long: `vfsd brokers file operations over a unix socket, dispatching each
request to a pluggable backend (local filesystem, sftp, ...).

Configuration is read from a YAML file when --config is given; flags
override the file.`,
	SilenceUsage: true,
	RunE:         run,
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered backend types",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(strings.Join(backend.Types(), "\n"))
	},
}

func init() {
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	root.Flags().StringVar(&listenPath, "listen", "", "unix socket path to serve on")
	root.Flags().IntVar(&workers, "workers", 0, "worker pool size")
	root.Flags().StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warning, error)")
	root.AddCommand(backendsCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg := daemon.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = daemon.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}
	if listenPath != "" {
		cfg.Listen = listenPath
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	flog.SetLevel(level)

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sig
		flog.Infof(nil, "vfsd: received %v, shutting down", s)
		d.Close()
	}()

	return d.ListenAndServe()
}

func main() {
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
