package procgen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/annel0/voxedit/internal/fingerprint"
	"github.com/annel0/voxedit/internal/vec"
	"github.com/annel0/voxedit/internal/volume"
	"github.com/annel0/voxedit/internal/voxel"
)

// ImagePlane плоское изображение в плоскости Z = Origin.Z.
// Пиксель (x, y) становится вокселем Origin + (x, h-1-y, 0);
// прозрачные пиксели пропускаются.
type ImagePlane struct {
	origin vec.Vec3
	png    []byte
	vol    *volume.Volume
	key    uint64
}

// NewImagePlane строит объем из изображения
func NewImagePlane(pool *voxel.Pool, img image.Image, origin vec.Vec3) (*ImagePlane, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("кодирование изображения: %w", err)
	}
	return newImagePlane(pool, img, buf.Bytes(), origin)
}

// DecodeImagePlane строит объем из PNG
func DecodeImagePlane(pool *voxel.Pool, data []byte, origin vec.Vec3) (*ImagePlane, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("декодирование изображения: %w", err)
	}
	return newImagePlane(pool, img, data, origin)
}

func newImagePlane(pool *voxel.Pool, img image.Image, data []byte, origin vec.Vec3) (*ImagePlane, error) {
	if pool == nil {
		pool = voxel.DefaultPool
	}
	b := img.Bounds()
	box := vec.Box{Min: origin, Max: origin.Add(vec.Vec3{X: b.Dx(), Y: b.Dy(), Z: 1})}
	if err := volume.CheckBox(box); err != nil {
		return nil, err
	}

	vol := volume.New(pool)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			p := origin.Add(vec.Vec3{X: x - b.Min.X, Y: b.Max.Y - 1 - y})
			if err := vol.Set(p, voxel.RGBA(c.R, c.G, c.B, c.A)); err != nil {
				vol.Release()
				return nil, err
			}
		}
	}
	return &ImagePlane{
		origin: origin,
		png:    data,
		vol:    vol,
		key: fingerprint.New("image").
			WriteInt(origin.X).WriteInt(origin.Y).WriteInt(origin.Z).
			WriteUint64(vol.Key()).
			Sum(),
	}, nil
}

// Key ключ изображения и его положения
func (p *ImagePlane) Key() uint64 { return p.key }

// Volume возвращает объем изображения; он готов сразу
func (p *ImagePlane) Volume() (*volume.Volume, bool) { return p.vol, p.vol != nil }

// Origin возвращает положение левого нижнего пикселя
func (p *ImagePlane) Origin() vec.Vec3 { return p.origin }

// PNG возвращает исходное изображение в PNG
func (p *ImagePlane) PNG() []byte { return p.png }

// Close освобождает объем
func (p *ImagePlane) Close() {
	if p.vol != nil {
		p.vol.Release()
		p.vol = nil
	}
}
