package voxel

import "fmt"

// Color цвет вокселя RGBA. Альфа 0 означает пустую клетку (воздух).
type Color [4]uint8

// Empty пустая клетка
var Empty Color

// White нейтральный оттенок слоя
var White = Color{255, 255, 255, 255}

// RGBA создает цвет из компонент
func RGBA(r, g, b, a uint8) Color {
	return Color{r, g, b, a}.Normalize()
}

// IsEmpty возвращает true для пустой клетки
func (c Color) IsEmpty() bool {
	return c[3] == 0
}

// Normalize приводит любой цвет с нулевой альфой к Empty,
// чтобы одинаковое содержимое имело одинаковое представление.
func (c Color) Normalize() Color {
	if c[3] == 0 {
		return Empty
	}
	return c
}

// Tint умножает цвет на оттенок. Пустая клетка остается пустой.
func (c Color) Tint(t Color) Color {
	if c.IsEmpty() || t == White {
		return c
	}
	return Color{
		uint8(uint16(c[0]) * uint16(t[0]) / 255),
		uint8(uint16(c[1]) * uint16(t[1]) / 255),
		uint8(uint16(c[2]) * uint16(t[2]) / 255),
		uint8(uint16(c[3]) * uint16(t[3]) / 255),
	}.Normalize()
}

// String возвращает цвет в виде #rrggbbaa
func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c[0], c[1], c[2], c[3])
}

// ParseColor разбирает строку формата #rrggbb или #rrggbbaa
func ParseColor(s string) (Color, error) {
	var c Color
	switch len(s) {
	case 7:
		if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &c[0], &c[1], &c[2]); err != nil {
			return Empty, fmt.Errorf("некорректный цвет %q: %w", s, err)
		}
		c[3] = 255
	case 9:
		if _, err := fmt.Sscanf(s, "#%02x%02x%02x%02x", &c[0], &c[1], &c[2], &c[3]); err != nil {
			return Empty, fmt.Errorf("некорректный цвет %q: %w", s, err)
		}
	default:
		return Empty, fmt.Errorf("некорректный цвет %q", s)
	}
	return c.Normalize(), nil
}
