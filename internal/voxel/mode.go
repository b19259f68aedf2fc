package voxel

import "fmt"

// Mode режим слияния исходного вокселя с вокселем назначения
type Mode uint8

const (
	// ModeReplace результат полностью совпадает с источником
	ModeReplace Mode = iota
	// ModeAdd непустой воксель источника побеждает
	ModeAdd
	// ModeSub непустой воксель источника стирает воксель назначения
	ModeSub
	// ModePaint перекрашивает только непустые воксели назначения
	ModePaint
)

var modeNames = [...]string{
	ModeReplace: "replace",
	ModeAdd:     "add",
	ModeSub:     "sub",
	ModePaint:   "paint",
}

// String возвращает имя режима
func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode разбирает имя режима
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("неизвестный режим слияния %q", s)
}

// Combine возвращает новый цвет клетки назначения
func (m Mode) Combine(dst, src Color) Color {
	switch m {
	case ModeReplace:
		return src
	case ModeAdd:
		if src.IsEmpty() {
			return dst
		}
		return src
	case ModeSub:
		if src.IsEmpty() {
			return dst
		}
		return Empty
	case ModePaint:
		if src.IsEmpty() || dst.IsEmpty() {
			return dst
		}
		return src
	}
	return dst
}

// CanCreate сообщает, может ли режим создать воксель там, где его не было.
// Режимы Sub и Paint работают только по существующим вокселям.
func (m Mode) CanCreate() bool {
	return m == ModeReplace || m == ModeAdd
}
