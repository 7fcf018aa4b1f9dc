package main

import (
	"os"
	"sync"

	"linkbeam/peer"
	"linkbeam/pkg/config"
	"linkbeam/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFile    string
	enableMDNS bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "linkbeam",
	Short: "LAN peer discovery and direct file transfer",
	Long: `linkbeam announces this device on the local network, lists peers that do
the same, and sends single files to them over a direct TCP connection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	path := configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}

	loaded := config.Config{}
	if path != "" {
		var err error
		if loaded, err = config.Load(path); err != nil {
			return err
		}
	} else {
		config.ApplyDefaults(&loaded)
	}

	if cmd.Flags().Changed("log-level") {
		loaded.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-file") {
		loaded.LogFile = logFile
	}
	if cmd.Flags().Changed("mdns") {
		loaded.MDNS = enableMDNS
	}
	if err := config.Validate(loaded); err != nil {
		return err
	}
	if err := logger.Configure(loaded.LogFile, loaded.LogLevel); err != nil {
		return err
	}

	cfg = loaded
	return nil
}

// newNode builds a node from the loaded config with a fresh device id.
func newNode(view *progressView) (*peer.Node, error) {
	interval, err := cfg.MetricsEvery()
	if err != nil {
		return nil, err
	}

	opts := peer.Options{
		DeviceID:        config.NewDeviceID(),
		DeviceName:      cfg.DeviceName,
		DiscoveryPort:   cfg.DiscoveryPort,
		TransferPort:    cfg.TransferPort,
		BroadcastAddr:   cfg.BroadcastAddr,
		DownloadDir:     cfg.DownloadDir,
		EnableMDNS:      cfg.MDNS,
		MetricsInterval: interval,
	}
	if view != nil {
		opts.OnTransfer = view.attach
	}
	return peer.NewNode(opts)
}

// progressView draws a progress bar for every transfer the node starts.
type progressView struct {
	wg     sync.WaitGroup
	colors bool
}

func newProgressView() *progressView {
	return &progressView{colors: peer.IsTerminalSupported()}
}

func (v *progressView) attach(tr *peer.TransferTracker) {
	r := peer.NewProgressRenderer(tr, os.Stdout, v.colors)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		r.Start()
	}()
}

// Wait blocks until every renderer has drawn its final line.
func (v *progressView) Wait() {
	v.wg.Wait()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default: user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&enableMDNS, "mdns", false, "Also advertise and browse over mDNS")
}
