//go:build !linux

package timing

func now() uint64 {
	return fallback()
}
