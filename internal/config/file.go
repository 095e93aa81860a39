package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
)

// systemsFile is the layout of a --systems-file:
//
//	[[systems]]
//	id = "erp"
//	url = "https://erp.example.com"
//	services = ["/sap/opu/odata/sap/API_BUSINESS_PARTNER"]
//
//	[systems.auth]
//	type = "basic"
//	username = "${ERP_USER}"
//	password = "${ERP_PASS}"
type systemsFile struct {
	Systems []SystemConfig `toml:"systems" yaml:"systems"`
}

// LoadSystemsFile reads a TOML or YAML systems file. ${VAR} references are
// expanded from the environment before decoding so secrets can stay out of
// the file.
func LoadSystemsFile(path string) ([]SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindConfig, "failed to read systems file", err)
	}
	content := os.ExpandEnv(string(data))

	var file systemsFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(content, &file); err != nil {
			return nil, bridgeerr.New(bridgeerr.KindConfig, "failed to parse "+path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(content), &file); err != nil {
			return nil, bridgeerr.New(bridgeerr.KindConfig, "failed to parse "+path, err)
		}
	default:
		return nil, bridgeerr.Newf(bridgeerr.KindConfig, "unsupported systems file extension %q (want .toml, .yaml or .yml)", ext)
	}

	if len(file.Systems) == 0 {
		return nil, bridgeerr.Newf(bridgeerr.KindConfig, "%s defines no systems", path)
	}
	return file.Systems, nil
}
