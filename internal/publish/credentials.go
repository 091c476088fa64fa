package publish

import (
	"fmt"
	"os"
	"strings"

	"github.com/secana/k-releaser/internal/secret"
)

// EnvCredentials resolves a registry credential from an environment
// variable, following cargo's own `CARGO_REGISTRIES_<NAME>_TOKEN`
// convention (the default registry uses plain `CARGO_REGISTRY_TOKEN`).
type EnvCredentials struct {
	DefaultRegistryName string
}

func (e EnvCredentials) Credential(registryName string) (*secret.Token, bool) {
	var envVar string
	if registryName == "" || registryName == e.DefaultRegistryName {
		envVar = "CARGO_REGISTRY_TOKEN"
	} else {
		envVar = fmt.Sprintf("CARGO_REGISTRIES_%s_TOKEN", strings.ToUpper(sanitizeEnvName(registryName)))
	}
	val := os.Getenv(envVar)
	if val == "" {
		return nil, false
	}
	return secret.NewToken(val), true
}

func sanitizeEnvName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
