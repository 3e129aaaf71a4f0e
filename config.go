package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config models the optional configuration file.
type Config struct {
	Input   InputConfig   `json:"input" yaml:"input"`
	Output  OutputConfig  `json:"output" yaml:"output"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// InputConfig selects where annotated lines (or a capture) come from.
type InputConfig struct {
	// Path is a file path, or "-" for stdin.
	Path string `json:"path" yaml:"path"`
	// Format is auto, text or pcap.
	Format string `json:"format" yaml:"format"`
	// Compression is auto, none, gzip, zstd or lz4.
	Compression string        `json:"compression" yaml:"compression"`
	Capture     CaptureConfig `json:"capture" yaml:"capture"`
}

// CaptureConfig tunes how packet captures are rendered into lines.
type CaptureConfig struct {
	HTTPPorts        []int `json:"http_ports" yaml:"http_ports"`
	TLSPorts         []int `json:"tls_ports" yaml:"tls_ports"`
	IncludeResponses bool  `json:"include_responses" yaml:"include_responses"`
}

// OutputConfig includes the local record sink and the forwarding target.
type OutputConfig struct {
	// Path is a file path, or "-" for stdout.
	Path string `json:"path" yaml:"path"`
	// Format is json or cbor.
	Format     string             `json:"format" yaml:"format"`
	FlowID     bool               `json:"flow_id" yaml:"flow_id"`
	RemoteHost RemoteOutputConfig `json:"remote-host" yaml:"remote-host"`
}

// RemoteOutputConfig forwards records to a remote TCP collector.
type RemoteOutputConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Host     string        `json:"host" yaml:"host"`
	Port     int           `json:"port" yaml:"port"`
	Timeouts TimeoutConfig `json:"timeouts" yaml:"timeouts"`
}

// TimeoutConfig holds small connection timing knobs, in seconds.
type TimeoutConfig struct {
	Connect int `json:"connect" yaml:"connect"`
	Write   int `json:"write" yaml:"write"`
}

// LoggingConfig controls the stderr logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration of the plain stdin to stdout filter.
func Default() Config {
	return Config{
		Input: InputConfig{
			Path:        "-",
			Format:      "auto",
			Compression: "auto",
			Capture: CaptureConfig{
				HTTPPorts: []int{80, 8000, 8080},
				TLSPorts:  []int{443, 8443},
			},
		},
		Output: OutputConfig{
			Path:   "-",
			Format: "json",
			RemoteHost: RemoteOutputConfig{
				Timeouts: TimeoutConfig{Connect: 5, Write: 5},
			},
		},
		Logging: LoggingConfig{Level: "INFO", Format: "auto"},
	}
}

// LoadConfig overlays the file at path onto the defaults. YAML files are
// recognised by extension; anything else is JSON that may carry comments and
// trailing commas.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(raw), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects values the service cannot act on.
func (c Config) Validate() error {
	if !oneOf(c.Input.Format, "auto", "text", "pcap") {
		return fmt.Errorf("input.format: unknown format %q", c.Input.Format)
	}
	if _, err := parseCompression(c.Input.Compression); err != nil {
		return fmt.Errorf("input.compression: %w", err)
	}
	if !oneOf(c.Output.Format, "json", "cbor") {
		return fmt.Errorf("output.format: unknown format %q", c.Output.Format)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if !oneOf(c.Logging.Format, "", "auto", "text", "json") {
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	rh := c.Output.RemoteHost
	if rh.Enabled && (rh.Host == "" || rh.Port <= 0 || rh.Port > 65535) {
		return fmt.Errorf("output.remote-host: host and port are required when enabled")
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
