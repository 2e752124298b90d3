//go:build !unix

package mcb

const execMemory = false

func mapExecutable(code []byte) ([]byte, error) {
	return nil, ErrUnsupportedHost
}

func unmap(mem []byte) error { return nil }
