package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map provider.
var ErrReadBytesNotSupported = errors.New("confloader: ReadBytes not supported by map provider")

// ErrReadNotSupported is returned when Read is called on a bytes provider.
var ErrReadNotSupported = errors.New("confloader: Read not supported by bytes provider")

// mapProvider loads configuration from a map of dotted keys. koanf
// merges Read results as is, so keys are nested here.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}

// bytesProvider hands a raw document to a koanf parser.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b bytesProvider) Read() (map[string]any, error) {
	return nil, ErrReadNotSupported
}
