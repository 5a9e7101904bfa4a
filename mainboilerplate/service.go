package mainboilerplate

import (
	"os"

	petname "github.com/dustinkirkland/golang-petname"
)

// ServiceConfig represents identification and addressing configuration of the process.
type ServiceConfig struct {
	ID   string `long:"id" env:"ID" description:"Unique ID of this process. Auto-generated if not set"`
	Host string `long:"host" env:"HOST" description:"Advertised hostname of this process. Hostname is used if not set"`
	Port string `long:"port" env:"PORT" default:"8080" description:"Service port for HTTP requests"`
}

// ProcessID returns the configured ID, or a generated one.
func (cfg ServiceConfig) ProcessID() string {
	if cfg.ID != "" {
		return cfg.ID
	}
	return petname.Generate(2, "-")
}

// ListenAddr returns the address on which to serve HTTP.
func (cfg ServiceConfig) ListenAddr() string { return ":" + cfg.Port }

// AdvertisedHost returns the configured Host, or the system hostname.
func (cfg ServiceConfig) AdvertisedHost() string {
	if cfg.Host != "" {
		return cfg.Host
	}
	var host, err = os.Hostname()
	Must(err, "failed to determine hostname")
	return host
}
