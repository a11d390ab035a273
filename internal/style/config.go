package style

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultKeys is the key list of the osm2pgsql default style
var defaultKeys = []string{
	"abandoned:aeroway",
	"abandoned:amenity",
	"abandoned:building",
	"abandoned:landuse",
	"abandoned:power",
	"access",
	"addr:housename",
	"addr:housenumber",
	"addr:interpolation",
	"admin_level",
	"aerialway",
	"aeroway",
	"amenity",
	"area",
	"area:highway",
	"barrier",
	"bicycle",
	"boundary",
	"brand",
	"bridge",
	"building",
	"capital",
	"construction",
	"covered",
	"culvert",
	"cutting",
	"denomination",
	"disused",
	"ele",
	"embankment",
	"foot",
	"generator:source",
	"harbour",
	"highway",
	"historic",
	"horse",
	"intermittent",
	"junction",
	"landuse",
	"layer",
	"leisure",
	"lock",
	"man_made",
	"military",
	"motorcar",
	"name",
	"natural",
	"office",
	"oneway",
	"operator",
	"place",
	"population",
	"power",
	"power_source",
	"public_transport",
	"railway",
	"ref",
	"religion",
	"route",
	"service",
	"shop",
	"sport",
	"surface",
	"toll",
	"tourism",
	"tower:type",
	"tracktype",
	"tunnel",
	"water",
	"waterway",
	"way_area",
	"wetland",
	"width",
	"wood",
	"z_order",
}

// defaultProvenance lists metadata keys that do not make a node worth storing
var defaultProvenance = []string{
	"created_by",
	"source",
	"note",
	"fixme",
	"FIXME",
}

// Config represents the tag filter configuration
type Config struct {
	// Keys is the whitelist of tag keys kept on points and lines
	Keys []string `yaml:"keys,omitempty"`
	// Provenance keys alone do not qualify a dense node as a point
	Provenance []string `yaml:"provenance,omitempty"`
}

// LoadConfig loads a style configuration from a YAML file.
// Lists missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}

	def := DefaultConfig()
	if len(cfg.Keys) == 0 {
		cfg.Keys = def.Keys
	}
	if len(cfg.Provenance) == 0 {
		cfg.Provenance = def.Provenance
	}
	return &cfg, nil
}

// DefaultConfig returns the osm2pgsql default key list and provenance keys
func DefaultConfig() *Config {
	return &Config{
		Keys:       append([]string(nil), defaultKeys...),
		Provenance: append([]string(nil), defaultProvenance...),
	}
}
