package build

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// UnspecifiedVersion is reported when the checkout carries no readable version.
const UnspecifiedVersion = "unspecified"

// ReadVersion returns the version field of package.json in dir.
func ReadVersion(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return UnspecifiedVersion
	}
	var manifest struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil || manifest.Version == "" {
		return UnspecifiedVersion
	}
	return manifest.Version
}
