//go:build windows

package jail

import "fmt"

func applyLimits(p Profile) error {
	return fmt.Errorf("jail: resource limits unsupported on windows")
}
