//go:build !linux

package camera

import "errors"

func enableKeyMode(int) (func() error, error) {
	return nil, errors.New("not supported on this platform")
}
