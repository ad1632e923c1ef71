package deployer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Unit is one artifact to deploy, resolved to the context it registers and
// the URL path it serves. Version is empty for unversioned artifacts.
type Unit struct {
	Artifact string `json:"artifact"`
	Context  string `json:"context"`
	Path     string `json:"path"`
	Version  string `json:"version,omitempty"`
}

// Versioned reports whether the unit is a parallel-deployment version of its
// path.
func (u Unit) Versioned() bool { return u.Version != "" }

// ParseArtifact derives a Unit from a WAR file name using the parallel
// deployment naming rules of the application server:
//
//	shop.war           -> context /shop,          path /shop
//	shop##042.war      -> context /shop##042,     path /shop, version 042
//	api#v2#orders.war  -> context /api/v2/orders, path /api/v2/orders
//	ROOT.war           -> context /,              path /
//	ROOT##7.war        -> context /##7,           path /, version 7
func ParseArtifact(file string) (Unit, error) {
	base := filepath.Base(file)
	if !strings.HasSuffix(strings.ToLower(base), ".war") {
		return Unit{}, fmt.Errorf("%w: %s is not a .war file", ErrInvalidUnit, file)
	}
	name := base[:len(base)-len(".war")]

	var version string
	if i := strings.Index(name, "##"); i >= 0 {
		name, version = name[:i], name[i+2:]
		if version == "" {
			return Unit{}, fmt.Errorf("%w: %s has an empty version", ErrInvalidUnit, file)
		}
	}
	if name == "" {
		return Unit{}, fmt.Errorf("%w: %s has an empty name", ErrInvalidUnit, file)
	}

	path := "/" + strings.ReplaceAll(name, "#", "/")
	if name == "ROOT" {
		path = "/"
	}

	ctx := path
	switch {
	case version == "":
	case path == "/":
		ctx = "/##" + version
	default:
		ctx = path + "##" + version
	}

	return Unit{Artifact: file, Context: ctx, Path: path, Version: version}, nil
}

// ParseArtifacts parses a batch and rejects two artifacts resolving to the
// same context.
func ParseArtifacts(files []string) ([]Unit, error) {
	units := make([]Unit, 0, len(files))
	seen := make(map[string]string, len(files))
	for _, f := range files {
		u, err := ParseArtifact(f)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[u.Context]; dup {
			return nil, fmt.Errorf("%w: %s and %s both deploy context %s", ErrInvalidUnit, prev, f, u.Context)
		}
		seen[u.Context] = f
		units = append(units, u)
	}
	return units, nil
}
