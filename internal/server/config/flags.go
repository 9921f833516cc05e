package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-i int      reconciliation tick interval, seconds
//	-n int      network timeout for node calls, seconds
//	-m string   routing email domain suffix
//	-b string   billing API endpoint
//	-k string   billing API token
//	-j int      recurring-charge poll interval, seconds
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in seconds.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-i", "-n", "-m", "-b", "-k", "-j"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	tickInterval := fs.Int("i", int(config.TickInterval.Seconds()), "reconciliation tick interval (in seconds)")
	networkTimeout := fs.Int("n", int(config.NetworkTimeout.Seconds()), "network timeout for node calls (in seconds)")

	fs.StringVar(&config.EmailDomain, "m", config.EmailDomain, "routing email domain suffix")
	fs.StringVar(&config.BillingEndpoint, "b", config.BillingEndpoint, "billing API endpoint")
	fs.StringVar(&config.BillingToken, "k", config.BillingToken, "billing API token")

	chargePollInterval := fs.Int("j", int(config.ChargePollInterval.Seconds()), "recurring-charge poll interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TickInterval = time.Duration(*tickInterval) * time.Second
	config.NetworkTimeout = time.Duration(*networkTimeout) * time.Second
	config.ChargePollInterval = time.Duration(*chargePollInterval) * time.Second
}
