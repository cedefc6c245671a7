package engine

import "fmt"

func errUnknownEnv(name string) error {
	return fmt.Errorf("engine: unknown runtime environment %q", name)
}
