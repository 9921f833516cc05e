package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/vpnkeeper/internal/flagx"
	"github.com/dmitrijs2005/vpnkeeper/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. Interval fields use timex.Duration, which accepts both string values
// such as "1s" and integer nanoseconds. After unmarshalling, its fields are
// copied into the runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP   string         `json:"endpoint_addr_http"`
	DatabaseDSN        string         `json:"database_dsn"`
	TickInterval       timex.Duration `json:"tick_interval"`
	NetworkTimeout     timex.Duration `json:"network_timeout"`
	EmailDomain        string         `json:"email_domain"`
	BillingEndpoint    string         `json:"billing_endpoint"`
	BillingToken       string         `json:"billing_token"`
	ChargePollInterval timex.Duration `json:"charge_poll_interval"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path is taken from the -c or -config flags; if
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.TickInterval = c.TickInterval.Duration
	config.NetworkTimeout = c.NetworkTimeout.Duration
	config.EmailDomain = c.EmailDomain
	config.BillingEndpoint = c.BillingEndpoint
	config.BillingToken = c.BillingToken
	config.ChargePollInterval = c.ChargePollInterval.Duration
}
