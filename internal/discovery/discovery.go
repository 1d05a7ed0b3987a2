// Package discovery advertises the proxy on the local network as an
// OctoPrint instance so slicers can find it without manual setup.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_octoprint._tcp"
	Domain      = "local."
)

type Config struct {
	InstanceName string
	Port         int
	Path         string
	Version      string
	API          string
}

// TXTRecords builds the TXT entries OctoPrint clients look for.
func TXTRecords(cfg Config) []string {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	records := []string{"path=" + path}
	if cfg.Version != "" {
		records = append(records, "version="+cfg.Version)
	}
	if cfg.API != "" {
		records = append(records, "api="+cfg.API)
	}
	return records
}

// registerFunc is zeroconf.Register bound to all interfaces.
type registerFunc func(instance, service, domain string, port int, text []string) (shutdowner, error)

type shutdowner interface {
	Shutdown()
}

func zeroconfRegister(instance, service, domain string, port int, text []string) (shutdowner, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

type Advertiser struct {
	cfg      Config
	register registerFunc
	log      *slog.Logger
}

func NewAdvertiser(cfg Config, log *slog.Logger) *Advertiser {
	if log == nil {
		log = slog.Default()
	}
	return &Advertiser{
		cfg:      cfg,
		register: zeroconfRegister,
		log:      log.With("component", "discovery"),
	}
}

// Run publishes the service and withdraws it when ctx is done.
func (a *Advertiser) Run(ctx context.Context) error {
	if a.cfg.Port <= 0 {
		return fmt.Errorf("invalid advertised port %d", a.cfg.Port)
	}

	server, err := a.register(a.cfg.InstanceName, ServiceType, Domain, a.cfg.Port, TXTRecords(a.cfg))
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.log.Info("advertising service", "instance", a.cfg.InstanceName, "service", ServiceType, "port", a.cfg.Port)

	<-ctx.Done()
	server.Shutdown()
	a.log.Info("service advertisement withdrawn")
	return nil
}
