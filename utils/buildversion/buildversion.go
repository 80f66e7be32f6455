package buildversion

import (
	"runtime/debug"
)

// GetVersion returns the version the named module was built at, falling
// back to the vcs revision for development builds.
func GetVersion(modulePath string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	if info.Main.Path == modulePath && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	for _, dep := range info.Deps {
		if dep.Path == modulePath {
			return dep.Version
		}
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if len(setting.Value) > 12 {
				return "dev-" + setting.Value[:12]
			}
			return "dev-" + setting.Value
		}
	}

	return "dev"
}
