package config

import (
	"gopkg.in/yaml.v3"

	"github.com/f9-o/berth/pkg/errs"
)

// DefaultConfigTemplate is the content written by `berth init`.
const DefaultConfigTemplate = `# berth.yaml: project manifest
version: "1"

system:
  namespace: acme
  name: shop

registry:
  host: localhost
  port: 8011

ssh:
  user: ubuntu
  identity_file: ~/.ssh/id_rsa

retention:
  window: 4

targets:
  web-01:
    private_ip_address: 10.0.0.11
    ip_address: 203.0.113.11

definitions:
  - id: web
    repository_url: git@github.com:acme/web.git
    build_script: build.sh
    execute:
      args: -d -p 8080:8080
  - id: cache
    image: redis:7
    execute:
      args: -d -p 6379:6379

containers:
  - id: web-1
    definition: web
    target: web-01
  - id: cache-1
    definition: cache
`

// CheckTemplate parses the init template to catch YAML mistakes early.
func CheckTemplate(tpl string) error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(tpl), &doc); err != nil {
		return errs.Wrap(err, errs.ErrConfig, "config.template")
	}
	if _, ok := doc["system"]; !ok {
		return errs.Newf(errs.ErrConfig, "config.template", "template has no system section")
	}
	return nil
}
