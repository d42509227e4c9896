package memory

import (
	"fmt"

	"github.com/wippyai/hostrt/errors"
)

// DefaultGranule is the commit step used when none is configured.
const DefaultGranule = 64 << 10

func roundUp(n, granule int) int {
	return (n + granule - 1) &^ (granule - 1)
}

func checkGranule(g int) error {
	if g <= 0 || g&(g-1) != 0 {
		return errors.InvalidArgument(errors.PhaseCreate, "allocator", fmt.Sprintf("granule %d is not a power of two", g))
	}
	return nil
}

func commitError(n, reserved int) error {
	return errors.Exhausted(errors.PhaseRecord, "commit",
		fmt.Sprintf("commit of %d bytes exceeds reservation of %d", n, reserved))
}
