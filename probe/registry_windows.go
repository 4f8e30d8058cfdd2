//go:build windows

package probe

import (
	"golang.org/x/sys/windows/registry"
)

type systemRegistry struct{}

// SystemRegistry reads HKLM, trying the 64-bit view before the 32-bit one.
func SystemRegistry() Registry { return systemRegistry{} }

func (systemRegistry) InstallDir(key, value string) (string, bool) {
	for _, view := range []uint32{registry.WOW64_64KEY, registry.WOW64_32KEY} {
		k, err := registry.OpenKey(registry.LOCAL_MACHINE, key, registry.QUERY_VALUE|view)
		if err != nil {
			continue
		}
		v, _, err := k.GetStringValue(value)
		k.Close()
		if err == nil && v != "" {
			return v, true
		}
	}
	return "", false
}
