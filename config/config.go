// Package config parses the command-line flags shared by the sender and
// receiver binaries into typed, validated configuration structs.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/YaoZengzeng/rft/netsim"
)

// SenderConfig holds everything cmd/sender needs to start a transfer.
type SenderConfig struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	File       string

	LossRate        float64
	CorruptionRate  float64
	MinDelay        time.Duration
	MaxDelay        time.Duration

	MetricsAddr string
	LogLevel    logrus.Level
}

// ReceiverConfig holds everything cmd/receiver needs to accept a transfer.
type ReceiverConfig struct {
	LocalIP    string
	LocalPort  int
	Output     string

	LossRate        float64
	CorruptionRate  float64
	MinDelay        time.Duration
	MaxDelay        time.Duration

	MetricsAddr string
	LogLevel    logrus.Level
}

// ParseSenderFlags parses args (normally os.Args[1:]) into a SenderConfig.
func ParseSenderFlags(fs *flag.FlagSet, args []string) (*SenderConfig, error) {
	c := &SenderConfig{}

	fs.StringVar(&c.LocalIP, "local-ip", "0.0.0.0", "local IP address to bind")
	fs.IntVar(&c.LocalPort, "local-port", 0, "local port to bind (0 = any free port)")
	fs.StringVar(&c.RemoteIP, "remote-ip", "127.0.0.1", "receiver IP address")
	fs.IntVar(&c.RemotePort, "remote-port", 0, "receiver port")
	fs.StringVar(&c.File, "file", "", "path of the file to send")
	fs.Float64Var(&c.LossRate, "loss-rate", 0, "simulated datagram loss probability, in [0,1]")
	fs.Float64Var(&c.CorruptionRate, "corruption-rate", 0, "simulated datagram corruption probability, in [0,1]")
	minDelayMs := fs.Int("min-delay", 0, "minimum simulated one-way delay, in milliseconds")
	maxDelayMs := fs.Int("max-delay", 0, "maximum simulated one-way delay, in milliseconds")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", "", "optional address to serve Prometheus metrics on (e.g. :9100); disabled if empty")
	logLevel := fs.String("log-level", "info", "logrus level: panic, fatal, error, warn, info, debug, or trace")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c.MinDelay = time.Duration(*minDelayMs) * time.Millisecond
	c.MaxDelay = time.Duration(*maxDelayMs) * time.Millisecond

	if c.RemotePort == 0 {
		return nil, fmt.Errorf("config: -remote-port is required")
	}
	if c.File == "" {
		return nil, fmt.Errorf("config: -file is required")
	}
	if err := validateRates(c.LossRate, c.CorruptionRate); err != nil {
		return nil, err
	}
	if c.MaxDelay < c.MinDelay {
		return nil, fmt.Errorf("config: -max-delay (%s) must be >= -min-delay (%s)", c.MaxDelay, c.MinDelay)
	}
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return nil, fmt.Errorf("config: -log-level: %w", err)
	}
	c.LogLevel = level

	return c, nil
}

// ParseReceiverFlags parses args (normally os.Args[1:]) into a ReceiverConfig.
func ParseReceiverFlags(fs *flag.FlagSet, args []string) (*ReceiverConfig, error) {
	c := &ReceiverConfig{}

	fs.StringVar(&c.LocalIP, "local-ip", "0.0.0.0", "local IP address to bind")
	fs.IntVar(&c.LocalPort, "local-port", 0, "local port to bind")
	fs.StringVar(&c.Output, "output", "", "path to write the received file to")
	fs.Float64Var(&c.LossRate, "loss-rate", 0, "simulated datagram loss probability, in [0,1]")
	fs.Float64Var(&c.CorruptionRate, "corruption-rate", 0, "simulated datagram corruption probability, in [0,1]")
	minDelayMs := fs.Int("min-delay", 0, "minimum simulated one-way delay, in milliseconds")
	maxDelayMs := fs.Int("max-delay", 0, "maximum simulated one-way delay, in milliseconds")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", "", "optional address to serve Prometheus metrics on (e.g. :9100); disabled if empty")
	logLevel := fs.String("log-level", "info", "logrus level: panic, fatal, error, warn, info, debug, or trace")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c.MinDelay = time.Duration(*minDelayMs) * time.Millisecond
	c.MaxDelay = time.Duration(*maxDelayMs) * time.Millisecond

	if c.LocalPort == 0 {
		return nil, fmt.Errorf("config: -local-port is required")
	}
	if c.Output == "" {
		return nil, fmt.Errorf("config: -output is required")
	}
	if err := validateRates(c.LossRate, c.CorruptionRate); err != nil {
		return nil, err
	}
	if c.MaxDelay < c.MinDelay {
		return nil, fmt.Errorf("config: -max-delay (%s) must be >= -min-delay (%s)", c.MaxDelay, c.MinDelay)
	}
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		return nil, fmt.Errorf("config: -log-level: %w", err)
	}
	c.LogLevel = level

	return c, nil
}

func validateRates(loss, corruption float64) error {
	if loss < 0 || loss > 1 {
		return fmt.Errorf("config: -loss-rate must be in [0,1], got %v", loss)
	}
	if corruption < 0 || corruption > 1 {
		return fmt.Errorf("config: -corruption-rate must be in [0,1], got %v", corruption)
	}
	return nil
}

// DelayRange builds the netsim.DelayRange implied by this config's min/max
// delay fields. Shared helper so both configs produce it identically.
func (c *SenderConfig) DelayRange() netsim.DelayRange {
	return netsim.DelayRange{Min: c.MinDelay, Max: c.MaxDelay}
}

// DelayRange builds the netsim.DelayRange implied by this config's min/max
// delay fields.
func (c *ReceiverConfig) DelayRange() netsim.DelayRange {
	return netsim.DelayRange{Min: c.MinDelay, Max: c.MaxDelay}
}
