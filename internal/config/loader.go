package config

import (
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"

	"github.com/vpnse/vpnse/internal/vpnerr"
)

// Load reads and validates an HCL settings file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vpnerr.Wrap(vpnerr.KindInvalidConfig, err, "read settings file")
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes settings from raw HCL. The filename is only used for
// diagnostics.
func LoadBytes(filename string, data []byte) (*Settings, error) {
	var cfg Settings
	if err := hclsimple.Decode(filename, data, evalContext(), &cfg); err != nil {
		return nil, vpnerr.Wrap(vpnerr.KindInvalidConfig, err, "decode settings")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// evalContext exposes the process environment as an `env` map so secrets
// can stay out of the settings file, e.g. `password = env.VPNSE_PASSWORD`.
func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	vars := map[string]cty.Value{}
	if len(env) > 0 {
		vars["env"] = cty.MapVal(env)
	} else {
		vars["env"] = cty.MapValEmpty(cty.String)
	}
	return &hcl.EvalContext{Variables: vars}
}
