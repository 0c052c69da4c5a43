package config

import (
	"flag"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestParseSenderFlagsMinimal(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	c, err := ParseSenderFlags(fs, []string{"-remote-port", "9000", "-file", "payload.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if c.RemotePort != 9000 || c.File != "payload.bin" {
		t.Fatalf("unexpected config: %+v", c)
	}
	if c.LocalIP != "0.0.0.0" {
		t.Fatalf("expected default local-ip, got %q", c.LocalIP)
	}
	if c.LogLevel != logrus.InfoLevel {
		t.Fatalf("expected default log level info, got %v", c.LogLevel)
	}
}

func TestParseSenderFlagsLogLevel(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	c, err := ParseSenderFlags(fs, []string{"-remote-port", "9000", "-file", "x", "-log-level", "debug"})
	if err != nil {
		t.Fatal(err)
	}
	if c.LogLevel != logrus.DebugLevel {
		t.Fatalf("expected debug log level, got %v", c.LogLevel)
	}
}

func TestParseSenderFlagsInvalidLogLevel(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	_, err := ParseSenderFlags(fs, []string{"-remote-port", "9000", "-file", "x", "-log-level", "nonsense"})
	if err == nil {
		t.Fatal("expected error for invalid -log-level")
	}
}

func TestParseSenderFlagsMissingRemotePort(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	_, err := ParseSenderFlags(fs, []string{"-file", "payload.bin"})
	if err == nil {
		t.Fatal("expected error for missing -remote-port")
	}
}

func TestParseSenderFlagsMissingFile(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	_, err := ParseSenderFlags(fs, []string{"-remote-port", "9000"})
	if err == nil {
		t.Fatal("expected error for missing -file")
	}
}

func TestParseSenderFlagsInvalidLossRate(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	_, err := ParseSenderFlags(fs, []string{"-remote-port", "9000", "-file", "x", "-loss-rate", "1.5"})
	if err == nil {
		t.Fatal("expected error for out-of-range loss-rate")
	}
}

func TestParseSenderFlagsDelayRange(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	c, err := ParseSenderFlags(fs, []string{"-remote-port", "9000", "-file", "x", "-min-delay", "10", "-max-delay", "50"})
	if err != nil {
		t.Fatal(err)
	}
	dr := c.DelayRange()
	if dr.Min != 10*time.Millisecond || dr.Max != 50*time.Millisecond {
		t.Fatalf("unexpected delay range: %+v", dr)
	}
}

func TestParseSenderFlagsMaxLessThanMin(t *testing.T) {
	fs := flag.NewFlagSet("sender", flag.ContinueOnError)
	_, err := ParseSenderFlags(fs, []string{"-remote-port", "9000", "-file", "x", "-min-delay", "50", "-max-delay", "10"})
	if err == nil {
		t.Fatal("expected error when max-delay < min-delay")
	}
}

func TestParseReceiverFlagsMinimal(t *testing.T) {
	fs := flag.NewFlagSet("receiver", flag.ContinueOnError)
	c, err := ParseReceiverFlags(fs, []string{"-local-port", "9000", "-output", "out.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if c.LocalPort != 9000 || c.Output != "out.bin" {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestParseReceiverFlagsMissingOutput(t *testing.T) {
	fs := flag.NewFlagSet("receiver", flag.ContinueOnError)
	_, err := ParseReceiverFlags(fs, []string{"-local-port", "9000"})
	if err == nil {
		t.Fatal("expected error for missing -output")
	}
}
