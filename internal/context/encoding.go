package context

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"skaha/internal/credential"
	"skaha/internal/registry"
	"skaha/pkg/secret"
)

// On disk the store looks like:
//
//	active: canada
//	contexts:
//	  canada:
//	    server: {name: Canada, url: https://ws-uv.canfar.net/skaha, version: v0}
//	    credential: {kind: x509, path: /home/user/.ssl/cadcproxy.pem}
//	    created_at: 2025-01-02T03:04:05Z
//	registry:
//	  url: images.canfar.net
//	  username: user
//	  secret: ...
//
// contexts is a mapping whose key order is the store order, so it is
// written and read through yaml.Node rather than a Go map.

type contextDoc struct {
	Server     registry.Server     `yaml:"server"`
	Credential credential.Document `yaml:"credential"`
	CreatedAt  time.Time           `yaml:"created_at,omitempty"`
}

type registryDoc struct {
	URL      string        `yaml:"url,omitempty"`
	Username string        `yaml:"username"`
	Secret   secret.Secret `yaml:"secret"`
}

type fileDoc struct {
	Active   string       `yaml:"active"`
	Contexts yaml.Node    `yaml:"contexts"`
	Registry *registryDoc `yaml:"registry"`
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func encodeConfig(cfg *Config) ([]byte, error) {
	contexts := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, ctx := range cfg.Contexts {
		var value yaml.Node
		doc := contextDoc{
			Server:     ctx.Server,
			Credential: credential.Encode(ctx.Credential),
			CreatedAt:  ctx.CreatedAt.UTC(),
		}
		if err := value.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode context %q: %w", ctx.Name, err)
		}
		contexts.Content = append(contexts.Content, scalar(ctx.Name), &value)
	}

	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	root.Content = append(root.Content, scalar("active"), scalar(cfg.Active))
	root.Content = append(root.Content, scalar("contexts"), contexts)

	if cfg.Registry != nil {
		var value yaml.Node
		if err := value.Encode(registryDoc{
			URL:      cfg.Registry.URL,
			Username: cfg.Registry.Username,
			Secret:   cfg.Registry.Secret,
		}); err != nil {
			return nil, fmt.Errorf("failed to encode registry: %w", err)
		}
		root.Content = append(root.Content, scalar("registry"), &value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	cfg.Active = doc.Active

	switch doc.Contexts.Kind {
	case 0:
	case yaml.MappingNode:
		content := doc.Contexts.Content
		for i := 0; i+1 < len(content); i += 2 {
			name := content[i].Value
			if cfg.Has(name) {
				return nil, fmt.Errorf("line %d: duplicate context %q", content[i].Line, name)
			}

			var cd contextDoc
			if err := content[i+1].Decode(&cd); err != nil {
				return nil, fmt.Errorf("context %q: %w", name, err)
			}
			cred, err := cd.Credential.Decode()
			if err != nil {
				return nil, fmt.Errorf("context %q: %w", name, err)
			}
			cfg.Contexts = append(cfg.Contexts, Context{
				Name:       name,
				Server:     cd.Server,
				Credential: cred,
				CreatedAt:  cd.CreatedAt,
			})
		}
	default:
		return nil, fmt.Errorf("line %d: contexts must be a mapping", doc.Contexts.Line)
	}

	if doc.Registry != nil {
		cfg.Registry = &ContainerRegistry{
			URL:      doc.Registry.URL,
			Username: doc.Registry.Username,
			Secret:   doc.Registry.Secret,
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
