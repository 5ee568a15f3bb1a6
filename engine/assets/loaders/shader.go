package loaders

import (
	"encoding/binary"
	"fmt"
	"os"
)

const spirvMagic uint32 = 0x07230203

// ShaderLoader reads compiled SPIR-V. The blob is returned as-is; the
// backend turns it into a shader module.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := checkSpirv(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Resource{
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     data,
	}, nil
}

func (sl *ShaderLoader) Unload(*Resource) error {
	return nil
}

func checkSpirv(b []byte) error {
	if len(b) < 4 || len(b)%4 != 0 {
		return fmt.Errorf("SPIR-V size %d is not a positive multiple of 4", len(b))
	}
	if magic := binary.LittleEndian.Uint32(b); magic != spirvMagic {
		return fmt.Errorf("bad SPIR-V magic %#08x", magic)
	}
	return nil
}
