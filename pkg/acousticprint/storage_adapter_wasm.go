//go:build js && wasm
// +build js,wasm

package acousticprint

import "fmt"

func openStore(out OutputConfig) (runStore, error) {
	return nil, fmt.Errorf("sink %q is not available in wasm builds", out.Sink)
}
