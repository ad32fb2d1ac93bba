package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/crawlupload/internal/flagx"
	"github.com/dmitrijs2005/crawlupload/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// keep their current value. RequestTimeout accepts "5m" strings or integer
// nanoseconds.
type JsonConfig struct {
	ServerURL      *string         `json:"server_url"`
	Token          *string         `json:"token"`
	OrgID          *string         `json:"org_id"`
	RequestTimeout *timex.Duration `json:"request_timeout"`
}

// parseJson overlays Config with values from the file named by -c or
// -config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != nil {
		cfg.ServerURL = *jc.ServerURL
	}
	if jc.Token != nil {
		cfg.Token = *jc.Token
	}
	if jc.OrgID != nil {
		cfg.OrgID = *jc.OrgID
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
}
