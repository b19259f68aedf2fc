package storage

import (
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/annel0/voxedit/internal/voxel"
)

// BlockID адрес содержимого блока: BLAKE2b-256 от сырых RGBA-данных.
// Ключи отпечатков (64 бита) для адресации не используются: они служат
// только для обнаружения изменений.
type BlockID [blake2b.Size256]byte

// String возвращает hex-представление адреса
func (id BlockID) String() string { return hex.EncodeToString(id[:]) }

// ParseBlockID разбирает hex-представление адреса
func ParseBlockID(s string) (BlockID, error) {
	var id BlockID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("неверный адрес блока %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("неверная длина адреса блока %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// MarshalText реализует encoding.TextMarshaler
func (id BlockID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText реализует encoding.TextUnmarshaler
func (id *BlockID) UnmarshalText(b []byte) error {
	parsed, err := ParseBlockID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// codec сжимает блоки. EncodeAll и DecodeAll безопасны для
// одновременного использования.
type codec struct {
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

func newCodec(level zstd.EncoderLevel) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd-компрессора: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("ошибка создания zstd-декомпрессора: %w", err)
	}
	return &codec{compressor: enc, decompressor: dec}, nil
}

// encode возвращает адрес и сжатые данные блока
func (c *codec) encode(b *voxel.Block) (BlockID, []byte) {
	raw := b.AppendBytes(make([]byte, 0, voxel.BlockBytes))
	id := BlockID(blake2b.Sum256(raw))
	return id, c.compressor.EncodeAll(raw, make([]byte, 0, 512))
}

// decode восстанавливает блок и проверяет его адрес
func (c *codec) decode(pool *voxel.Pool, id BlockID, data []byte) (*voxel.Block, error) {
	raw, err := c.decompressor.DecodeAll(data, make([]byte, 0, voxel.BlockBytes))
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки блока %s: %w", id, err)
	}
	if BlockID(blake2b.Sum256(raw)) != id {
		return nil, fmt.Errorf("%w: блок %s", ErrCorrupted, id)
	}
	return pool.FromBytes(raw)
}

func (c *codec) close() {
	c.compressor.Close()
	c.decompressor.Close()
}

// ParseLevel разбирает уровень сжатия из конфигурации
func ParseLevel(s string) (zstd.EncoderLevel, error) {
	if s == "" {
		return zstd.SpeedDefault, nil
	}
	ok, level := zstd.EncoderLevelFromString(s)
	if !ok {
		return zstd.SpeedDefault, fmt.Errorf("неизвестный уровень сжатия %q", s)
	}
	return level, nil
}
