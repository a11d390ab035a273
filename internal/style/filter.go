package style

import (
	"github.com/wegman-software/osmgeodb/internal/osmdata"
)

// Filter keeps the interesting tags of an entity. It is immutable and safe
// for concurrent use.
type Filter struct {
	keys       map[string]struct{}
	provenance map[string]struct{}
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *Config) *Filter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Filter{
		keys:       toSet(cfg.Keys),
		provenance: toSet(cfg.Provenance),
	}
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// Keep reports whether key is on the whitelist
func (f *Filter) Keep(key string) bool {
	_, ok := f.keys[key]
	return ok
}

// Apply returns the whitelisted subset of tags. The input is not modified.
func (f *Filter) Apply(tags map[string]string) osmdata.Tags {
	var out osmdata.Tags
	for k, v := range tags {
		if !f.Keep(k) {
			continue
		}
		if out == nil {
			out = make(osmdata.Tags, len(tags))
		}
		out[k] = v
	}
	return out
}

// ApplyDense is Apply for nodes decoded from dense groups: a result made of
// provenance keys only is treated as empty.
func (f *Filter) ApplyDense(tags map[string]string) osmdata.Tags {
	out := f.Apply(tags)
	if f.OnlyProvenance(out) {
		return nil
	}
	return out
}

// OnlyProvenance reports whether every key of tags is on the provenance
// list. An empty set counts as provenance only.
func (f *Filter) OnlyProvenance(tags osmdata.Tags) bool {
	for k := range tags {
		if _, ok := f.provenance[k]; !ok {
			return false
		}
	}
	return true
}
