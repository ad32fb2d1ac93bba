package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/crawlupload/internal/flagx"
)

// Flags lists every flag this package owns, JSON config flags included, so
// callers can strip them before parsing their own.
var Flags = []string{"-s", "-t", "-o", "-timeout", "-c", "-config"}

// parseFlags populates selected Config fields from command-line flags.
//
//	-s string     upload server base URL
//	-t string     bearer access token
//	-o string     organization id
//	-timeout int  request timeout in seconds, 0 for none
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-s", "-t", "-o", "-timeout"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerURL, "s", cfg.ServerURL, "upload server base URL")
	fs.StringVar(&cfg.Token, "t", cfg.Token, "bearer access token (default $"+TokenEnv+")")
	fs.StringVar(&cfg.OrgID, "o", cfg.OrgID, "organization id")
	timeout := fs.Int("timeout", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*timeout) * time.Second
}
