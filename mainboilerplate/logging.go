package mainboilerplate

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	Caller bool   `long:"caller" env:"CALLER" description:"Annotate log events with the calling function"`
}

// InitLog configures the standard logger of the process. Events are written
// to stderr, leaving stdout for command output.
func InitLog(cfg LogConfig) {
	var lvl, err = log.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	log.SetReportCaller(cfg.Caller)
	log.SetFormatter(formatter(cfg.Format))
}

func formatter(format string) log.Formatter {
	switch format {
	case "json":
		return &log.JSONFormatter{}
	case "color":
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true}
	default:
		return &log.TextFormatter{FullTimestamp: true}
	}
}
