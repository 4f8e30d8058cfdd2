//go:build !windows

package probe

type systemRegistry struct{}

// SystemRegistry finds nothing outside Windows; games are added manually.
func SystemRegistry() Registry { return systemRegistry{} }

func (systemRegistry) InstallDir(string, string) (string, bool) { return "", false }
