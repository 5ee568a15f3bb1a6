package loaders

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ImageLoader decodes png, jpeg, bmp and tiff files into an image.Image.
type ImageLoader struct{}

func (il *ImageLoader) Load(path string) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return &Resource{
		FullPath: path,
		DataSize: uint64(info.Size()),
		Data:     img,
	}, nil
}

func (il *ImageLoader) Unload(*Resource) error {
	return nil
}
