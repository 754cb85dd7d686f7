package config

import (
	"os"
	"path/filepath"
)

// FindConfigFile returns the first <service>.yaml found in the working
// directory, ./config, ./configs, /etc/<service> or ~/.<service>.
func FindConfigFile(serviceName string) string {
	name := serviceName + ".yaml"
	candidates := []string{
		name,
		filepath.Join("config", name),
		filepath.Join("configs", name),
		filepath.Join("/etc", serviceName, name),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "."+serviceName, name))
	}
	return firstExisting(candidates)
}

// FindEnvironmentFile returns the first .env or <service>.env found in the
// working directory, ./config or ./configs.
func FindEnvironmentFile(serviceName string) string {
	name := serviceName + ".env"
	var candidates []string
	for _, dir := range []string{"", "config", "configs"} {
		candidates = append(candidates, filepath.Join(dir, ".env"), filepath.Join(dir, name))
	}
	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
