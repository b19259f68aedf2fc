package api

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/voxedit/internal/editor"
	"github.com/annel0/voxedit/internal/voxel"
)

// ServerStatus ответ /api/server: состояние процесса и редактора
type ServerStatus struct {
	Name       string        `json:"name"`
	Uptime     string        `json:"uptime"`
	CPUPercent float64       `json:"cpu_percent"`
	RSSMB      float64       `json:"rss_mb"`
	Goroutines int           `json:"goroutines"`
	Blocks     BlockStatus   `json:"blocks"`
	Documents  DocumentTotal `json:"documents"`
}

// BlockStatus счетчики пула блоков
type BlockStatus struct {
	Live      int64  `json:"live"`
	Limit     int64  `json:"limit"` // 0: без ограничения
	Allocated uint64 `json:"allocated"`
	Cloned    uint64 `json:"cloned"`
	Freed     uint64 `json:"freed"`
}

// DocumentTotal сводка по открытым документам
type DocumentTotal struct {
	Open         int `json:"open"`
	Dirty        int `json:"dirty"`
	HistoryNodes int `json:"history_nodes"`
}

// statusReporter собирает ServerStatus
type statusReporter struct {
	started time.Time
	proc    *process.Process // nil, если процесс недоступен gopsutil
}

func newStatusReporter() *statusReporter {
	sr := &statusReporter{started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sr.proc = p
	}
	return sr
}

// Collect снимает состояние редактора и процесса
func (sr *statusReporter) Collect(ed *editor.Editor) ServerStatus {
	st := ServerStatus{
		Name:       "voxedit",
		Uptime:     time.Since(sr.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Blocks:     blockStatus(ed.Pool()),
	}

	// Ошибки gopsutil не мешают отдать состояние редактора
	if sr.proc != nil {
		if cpu, err := sr.proc.CPUPercent(); err == nil {
			st.CPUPercent = cpu
		}
		if mem, err := sr.proc.MemoryInfo(); err == nil {
			st.RSSMB = float64(mem.RSS) / 1024 / 1024
		}
	}

	for _, d := range ed.Documents() {
		st.Documents.Open++
		if d.IsDirty() {
			st.Documents.Dirty++
		}
		labels, _ := d.Labels()
		st.Documents.HistoryNodes += len(labels)
	}
	return st
}

func blockStatus(p *voxel.Pool) BlockStatus {
	if p == nil {
		p = voxel.DefaultPool
	}
	s := p.Stats()
	return BlockStatus{
		Live:      s.Live,
		Limit:     p.Limit(),
		Allocated: s.Allocated,
		Cloned:    s.Cloned,
		Freed:     s.Freed,
	}
}
