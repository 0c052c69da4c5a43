// Command receiver accepts one rft file transfer over a simulated
// lossy/corrupting UDP channel and writes it to disk.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/YaoZengzeng/rft/config"
	"github.com/YaoZengzeng/rft/metrics"
	"github.com/YaoZengzeng/rft/netsim"
	"github.com/YaoZengzeng/rft/receiver"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()
	entry := logrus.NewEntry(log)

	fs := flag.NewFlagSet("receiver", flag.ContinueOnError)
	cfg, err := config.ParseReceiverFlags(fs, os.Args[1:])
	if err != nil {
		entry.WithError(err).Error("invalid configuration")
		return 1
	}
	log.SetLevel(cfg.LogLevel)

	out, err := os.Create(cfg.Output)
	if err != nil {
		entry.WithError(err).Error("creating output file failed")
		return 1
	}
	defer out.Close()

	localAddr := &net.UDPAddr{IP: net.ParseIP(cfg.LocalIP), Port: cfg.LocalPort}
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		entry.WithError(err).Error("binding local socket failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		reg = registry
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				entry.WithError(err).Warn("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	m := metrics.New(reg, prometheus.Labels{"role": "receiver"})

	ch := netsim.New(conn, nil, cfg.LossRate, cfg.CorruptionRate, cfg.DelayRange())
	defer ch.Close()
	r := receiver.New(ch, out, m, entry)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	select {
	case err := <-done:
		if err != nil {
			entry.WithError(err).Error("transfer failed")
			return 1
		}
		entry.Info("transfer complete")
		return 0
	case <-ctx.Done():
		entry.Warn("interrupted, closing connection")
		ch.Close()
		<-done
		return 1
	}
}
