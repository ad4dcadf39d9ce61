//go:build !unix

package mapped

import "errors"

func OpenFile(path string, size int64, opts ...Option) (*Store, error) {
	return nil, errors.New("mapped files are only supported on unix")
}
