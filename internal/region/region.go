// Package region resolves logical memory regions to the window under test
// and rotates those windows from cycle to cycle.
package region

import (
	"errors"
	"fmt"

	"memdiag/internal/diag"
	"memdiag/internal/memwin"
)

// NumTiers is the number of window size tiers.
const NumTiers = 3

var ErrUnknownRegion = errors.New("unknown memory region")

// Layout is the static description of a region and its initial window.
type Layout struct {
	ID     diag.RegionID
	Base   uint32
	Size   uint32
	Offset uint32 // initial window offset
	Window uint32 // initial window size
	Margin uint32 // reserved at the top of the region, and the minimum offset
	Stride uint32 // offset advance per rotation
	Tiers  [NumTiers]uint32
}

// Validate checks that every window the rotation may select fits the region
// with the margin reserved below and above it.
func (l Layout) Validate() error {
	for _, v := range []uint32{l.Base, l.Size, l.Offset, l.Window, l.Margin, l.Stride} {
		if v%memwin.WordSize != 0 {
			return fmt.Errorf("%s: value 0x%X not word aligned", l.ID, v)
		}
	}
	if l.Stride == 0 {
		return fmt.Errorf("%s: zero rotation stride", l.ID)
	}
	if uint64(l.Base)+uint64(l.Size) > 1<<32 {
		return fmt.Errorf("%s: region 0x%08X+0x%X wraps address space", l.ID, l.Base, l.Size)
	}
	sizes := append([]uint32{l.Window}, l.Tiers[:]...)
	for _, w := range sizes {
		if w == 0 {
			continue
		}
		if w%memwin.WordSize != 0 {
			return fmt.Errorf("%s: window size 0x%X not word aligned", l.ID, w)
		}
		if uint64(w)+2*uint64(l.Margin) > uint64(l.Size) {
			return fmt.Errorf("%s: window 0x%X with margin 0x%X does not fit region size 0x%X", l.ID, w, l.Margin, l.Size)
		}
	}
	if l.Window == 0 {
		return fmt.Errorf("%s: zero window size", l.ID)
	}
	if uint64(l.Offset)+uint64(l.Window)+uint64(l.Margin) > uint64(l.Size) {
		return fmt.Errorf("%s: initial window 0x%X+0x%X overlaps the margin", l.ID, l.Offset, l.Window)
	}
	return nil
}

// Info is the current state of a region.
type Info struct {
	ID     diag.RegionID
	Base   uint32
	Size   uint32
	Offset uint32
	Window uint32
	Margin uint32
}

// Start returns the absolute address of the current window.
func (i Info) Start() uint32 { return i.Base + i.Offset }

type region struct {
	layout Layout
	offset uint32
	window uint32
	mem    memwin.Memory
}

func (r *region) info() Info {
	return Info{
		ID:     r.layout.ID,
		Base:   r.layout.Base,
		Size:   r.layout.Size,
		Offset: r.offset,
		Window: r.window,
		Margin: r.layout.Margin,
	}
}

// Manager owns the offsets and sizes of every region window. Nothing else
// mutates them.
type Manager struct {
	regions       map[diag.RegionID]*region
	order         []diag.RegionID
	rotateOffsets bool
	rotateSizes   bool
	tierPeriod    uint32
}

// Option configures a Manager.
type Option func(*Manager)

// WithOffsetRotation enables or disables offset rotation.
func WithOffsetRotation(on bool) Option { return func(m *Manager) { m.rotateOffsets = on } }

// WithSizeRotation enables or disables size tier rotation.
func WithSizeRotation(on bool) Option { return func(m *Manager) { m.rotateSizes = on } }

// WithTierPeriod sets the number of cycles between size tier changes.
func WithTierPeriod(cycles uint32) Option { return func(m *Manager) { m.tierPeriod = cycles } }

// Backing binds a region to the memory its window is accessed through.
type Backing struct {
	Layout Layout
	Mem    memwin.Memory
}

// NewManager validates every layout and creates a manager with both kinds of
// rotation enabled and a tier period of 5 cycles.
func NewManager(regions []Backing, opts ...Option) (*Manager, error) {
	m := &Manager{
		regions:       make(map[diag.RegionID]*region, len(regions)),
		rotateOffsets: true,
		rotateSizes:   true,
		tierPeriod:    5,
	}
	for _, o := range opts {
		o(m)
	}
	for _, b := range regions {
		if err := b.Layout.Validate(); err != nil {
			return nil, err
		}
		if b.Mem == nil {
			return nil, fmt.Errorf("%s: no backing memory", b.Layout.ID)
		}
		if _, dup := m.regions[b.Layout.ID]; dup {
			return nil, fmt.Errorf("%s: region defined twice", b.Layout.ID)
		}
		m.regions[b.Layout.ID] = &region{
			layout: b.Layout,
			offset: b.Layout.Offset,
			window: b.Layout.Window,
			mem:    b.Mem,
		}
		m.order = append(m.order, b.Layout.ID)
	}
	return m, nil
}

// SetOffsetRotation enables or disables offset rotation.
func (m *Manager) SetOffsetRotation(on bool) { m.rotateOffsets = on }

// SetSizeRotation enables or disables size tier rotation.
func (m *Manager) SetSizeRotation(on bool) { m.rotateSizes = on }

// Rotation returns the current rotation settings.
func (m *Manager) Rotation() (offsets, sizes bool) { return m.rotateOffsets, m.rotateSizes }

// Info returns the current state of region id.
func (m *Manager) Info(id diag.RegionID) (Info, error) {
	r, ok := m.regions[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownRegion, id)
	}
	return r.info(), nil
}

// Regions returns the state of every region in definition order.
func (m *Manager) Regions() []Info {
	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.regions[id].info())
	}
	return out
}

// Resolve returns the window currently under test in region id.
func (m *Manager) Resolve(id diag.RegionID) (*memwin.Window, error) {
	r, ok := m.regions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, id)
	}
	return memwin.New(r.mem, r.layout.Base+r.offset, r.window)
}

// Rotate advances every region for the given cycle. Every tierPeriod cycles
// the window size moves to tier (cycle/tierPeriod)%3. The offset then
// advances by the stride modulo (size - window - margin) and is clamped up to
// the margin. Afterwards offset+window never exceeds size-margin.
func (m *Manager) Rotate(cycle uint32) {
	for _, id := range m.order {
		m.regions[id].rotate(cycle, m.rotateOffsets, m.rotateSizes, m.tierPeriod)
	}
}

func (r *region) rotate(cycle uint32, offsets, sizes bool, period uint32) {
	l := &r.layout
	if sizes && period > 0 && cycle%period == 0 {
		if t := l.Tiers[(cycle/period)%NumTiers]; t != 0 {
			r.window = t
		}
	}

	span := l.Size - r.window - l.Margin
	if offsets && span > 0 {
		r.offset = (r.offset + l.Stride) % span
		if r.offset < l.Margin {
			r.offset = l.Margin
		}
	}
	if r.offset+r.window > l.Size-l.Margin {
		r.offset = l.Size - l.Margin - r.window
	}
}
