package main

import (
	"fmt"
	"os"

	"edge-gateway/middleware/resilience/domain"

	"gopkg.in/yaml.v3"
)

// routeEntry junta a política de resiliência (domain.RoutePolicy) com o
// wiring local do binário (para onde proxyar).
type routeEntry struct {
	Upstream string `yaml:"upstream"`

	domain.RoutePolicy `yaml:",inline"`
}

type routesFile struct {
	Routes []routeEntry `yaml:"routes"`
}

// loadRoutes lê as políticas por rota do YAML, aplica defaults e valida.
// As políticas são imutáveis depois daqui; troca a quente é redeploy.
func loadRoutes(path string) ([]routeEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var file routesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	if len(file.Routes) == 0 {
		return nil, fmt.Errorf("routes file %q has no routes", path)
	}

	seen := make(map[string]bool, len(file.Routes))
	for i := range file.Routes {
		route := &file.Routes[i]
		route.Normalize()
		if err := route.Validate(); err != nil {
			return nil, err
		}
		if route.Upstream == "" {
			return nil, fmt.Errorf("route %q: upstream is required", route.Name)
		}
		if route.Prefix == "" {
			return nil, fmt.Errorf("route %q: prefix is required", route.Name)
		}
		if seen[route.Name] {
			return nil, fmt.Errorf("duplicate route name %q", route.Name)
		}
		seen[route.Name] = true
	}
	return file.Routes, nil
}
