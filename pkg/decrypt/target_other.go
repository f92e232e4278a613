//go:build !unix

package decrypt

import "os"

func mapFile(f *os.File, size int64) (Target, error) {
	return nil, errMmapUnsupported
}
