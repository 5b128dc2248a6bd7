// Package config holds the engine configuration: the device memory map, the
// rotation policy and the test plan parameters.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"memdiag/common"
	"memdiag/internal/diag"
	"memdiag/internal/pattern"
	"memdiag/internal/region"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full engine configuration.
type Config struct {
	Regions []region.Layout

	Mode     diag.Mode
	LogLevel common.Severity

	AddressStride        uint32
	ButterflyPairs       uint32
	ReportIntervalMs     uint32
	AdvancedInterval     uint32
	ConfigReportInterval uint32

	RotateOffsets  bool
	RotateSizes    bool
	SizeTierPeriod uint32

	CacheTestOffset   uint32 // from the flash base
	MarchBackground   uint32
	GalpatMaxBytes    uint32
	WatchdogTimeoutMs uint32
}

// Default returns the STM32G473 memory map and the standard test parameters.
func Default() *Config {
	return &Config{
		Regions: []region.Layout{
			{ID: diag.RegionFlash, Base: 0x08000000, Size: 0x80000, Offset: 0x20000, Window: 0x8000, Margin: 0x1000, Stride: 0x10000,
				Tiers: [region.NumTiers]uint32{0x8000, 0x10000, 0x20000}},
			{ID: diag.RegionSRAM1, Base: 0x20000000, Size: 0x18000, Offset: 0x2000, Window: 0x4000, Margin: 0x1000, Stride: 0x4000,
				Tiers: [region.NumTiers]uint32{0x4000, 0x8000, 0x10000}},
			{ID: diag.RegionSRAM2, Base: 0x20018000, Size: 0x8000, Offset: 0x400, Window: 0x2000, Margin: 0x400, Stride: 0x1000,
				Tiers: [region.NumTiers]uint32{0x2000, 0x4000, 0x6000}},
			{ID: diag.RegionCCM, Base: 0x10000000, Size: 0x8000, Offset: 0x400, Window: 0x2000, Margin: 0x400, Stride: 0x1000,
				Tiers: [region.NumTiers]uint32{0x2000, 0x4000, 0x6000}},
		},
		Mode:                 diag.ModeNormal,
		LogLevel:             common.SeverityInfo,
		AddressStride:        256,
		ButterflyPairs:       pattern.DefaultButterflyPairs,
		ReportIntervalMs:     1000,
		AdvancedInterval:     10,
		ConfigReportInterval: 20,
		RotateOffsets:        true,
		RotateSizes:          true,
		SizeTierPeriod:       5,
		CacheTestOffset:      0x20000,
		MarchBackground:      0x00000000,
		GalpatMaxBytes:       0x400,
		WatchdogTimeoutMs:    2048,
	}
}

// Region returns the layout of region id, or nil.
func (c *Config) Region(id diag.RegionID) *region.Layout {
	for i := range c.Regions {
		if c.Regions[i].ID == id {
			return &c.Regions[i]
		}
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Regions) == 0 {
		errs = append(errs, errors.New("no memory regions"))
	}
	for _, l := range c.Regions {
		if err := l.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.AddressStride == 0 || c.AddressStride%4 != 0 {
		errs = append(errs, fmt.Errorf("address stride %d not a positive multiple of 4", c.AddressStride))
	}
	if c.ButterflyPairs == 0 || c.ButterflyPairs > pattern.MaxButterflyPairs {
		errs = append(errs, fmt.Errorf("butterfly pairs %d outside 1..%d", c.ButterflyPairs, pattern.MaxButterflyPairs))
	}
	if c.ReportIntervalMs == 0 || c.AdvancedInterval == 0 || c.ConfigReportInterval == 0 {
		errs = append(errs, errors.New("report and test intervals must be non-zero"))
	}
	if c.RotateSizes && c.SizeTierPeriod == 0 {
		errs = append(errs, errors.New("size rotation enabled with a zero tier period"))
	}
	if c.GalpatMaxBytes < 4 {
		errs = append(errs, fmt.Errorf("galpat slice limit 0x%X below one word", c.GalpatMaxBytes))
	}
	if c.WatchdogTimeoutMs == 0 {
		errs = append(errs, errors.New("zero watchdog timeout"))
	}
	if fl := c.Region(diag.RegionFlash); fl != nil {
		if c.CacheTestOffset%8 != 0 || uint64(c.CacheTestOffset)+8 > uint64(fl.Size) {
			errs = append(errs, fmt.Errorf("cache test offset 0x%X not a double word inside flash", c.CacheTestOffset))
		}
	}
	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// LoadFile overlays the INI file at path onto the defaults.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load overlays an INI configuration onto the defaults and validates the
// result. Numbers may be written in decimal or with a 0x prefix.
func Load(r io.Reader) (*Config, error) {
	ini, err := ParseIni(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c := Default()

	if sec := ini.GetSection(TestSectionName); sec != nil {
		if err := c.parseTest(sec); err != nil {
			return nil, fmt.Errorf("%w: [%s] %w", ErrInvalid, TestSectionName, err)
		}
	}

	for _, name := range ini.SectionNames() {
		if name == TestSectionName {
			continue
		}
		regionName, ok := strings.CutPrefix(name, RegionSectionPrefix)
		if !ok {
			return nil, fmt.Errorf("%w: unknown section [%s]", ErrInvalid, name)
		}
		id, ok := ParseRegion(regionName)
		if !ok {
			return nil, fmt.Errorf("%w: unknown region [%s]", ErrInvalid, name)
		}
		l := c.Region(id)
		if l == nil {
			c.Regions = append(c.Regions, region.Layout{ID: id})
			l = &c.Regions[len(c.Regions)-1]
		}
		if err := parseRegion(l, ini.GetSection(name)); err != nil {
			return nil, fmt.Errorf("%w: [%s] %w", ErrInvalid, name, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseRegion maps a section name suffix to a region.
func ParseRegion(name string) (diag.RegionID, bool) {
	switch strings.ToLower(name) {
	case "flash":
		return diag.RegionFlash, true
	case "sram1":
		return diag.RegionSRAM1, true
	case "sram2":
		return diag.RegionSRAM2, true
	case "ccm":
		return diag.RegionCCM, true
	}
	return 0, false
}

func (c *Config) parseTest(sec map[string]string) error {
	uints := map[string]*uint32{
		AddressStrideKey:        &c.AddressStride,
		ButterflyPairsKey:       &c.ButterflyPairs,
		ReportIntervalKey:       &c.ReportIntervalMs,
		AdvancedIntervalKey:     &c.AdvancedInterval,
		ConfigReportIntervalKey: &c.ConfigReportInterval,
		SizeTierPeriodKey:       &c.SizeTierPeriod,
		CacheTestOffsetKey:      &c.CacheTestOffset,
		MarchBackgroundKey:      &c.MarchBackground,
		GalpatMaxBytesKey:       &c.GalpatMaxBytes,
		WatchdogTimeoutKey:      &c.WatchdogTimeoutMs,
	}
	bools := map[string]*bool{
		RotateOffsetsKey: &c.RotateOffsets,
		RotateSizesKey:   &c.RotateSizes,
	}

	for k, v := range sec {
		switch {
		case k == ModeKey:
			m, ok := diag.ParseMode(v)
			if !ok {
				return fmt.Errorf("unknown mode %q", v)
			}
			c.Mode = m
		case k == LogLevelKey:
			sev, ok := common.ParseSeverity(v)
			if !ok {
				return fmt.Errorf("unknown log level %q", v)
			}
			c.LogLevel = sev
		case uints[k] != nil:
			n, err := parseUint(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*uints[k] = n
		case bools[k] != nil:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
			*bools[k] = b
		default:
			return fmt.Errorf("unknown key %q", k)
		}
	}
	return nil
}

func parseRegion(l *region.Layout, sec map[string]string) error {
	fields := map[string]*uint32{
		BaseKey:   &l.Base,
		SizeKey:   &l.Size,
		OffsetKey: &l.Offset,
		WindowKey: &l.Window,
		MarginKey: &l.Margin,
		StrideKey: &l.Stride,
	}
	for k, v := range sec {
		if k == TiersKey {
			parts := strings.Split(v, ",")
			if len(parts) != region.NumTiers {
				return fmt.Errorf("%s: want %d sizes, got %q", k, region.NumTiers, v)
			}
			for i, p := range parts {
				n, err := parseUint(strings.TrimSpace(p))
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				l.Tiers[i] = n
			}
			continue
		}
		f, ok := fields[k]
		if !ok {
			return fmt.Errorf("unknown key %q", k)
		}
		n, err := parseUint(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*f = n
	}
	return nil
}

func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return uint32(v), nil
}

// Describe writes the configuration report.
func (c *Config) Describe(w io.Writer) {
	fmt.Fprintf(w, "Mode: %s\n", c.Mode)
	for _, l := range c.Regions {
		fmt.Fprintf(w, "%-8s base=0x%08X size=0x%05X window=0x%05X@0x%05X margin=0x%X stride=0x%X tiers=%05X/%05X/%05X\n",
			l.ID, l.Base, l.Size, l.Window, l.Offset, l.Margin, l.Stride, l.Tiers[0], l.Tiers[1], l.Tiers[2])
	}
	fmt.Fprintf(w, "Address stride: %d, butterfly pairs: %d, advanced every %d cycles\n",
		c.AddressStride, c.ButterflyPairs, c.AdvancedInterval)
	fmt.Fprintf(w, "Rotation: offsets=%v sizes=%v period=%d\n", c.RotateOffsets, c.RotateSizes, c.SizeTierPeriod)
	fmt.Fprintf(w, "Watchdog timeout: %d ms\n", c.WatchdogTimeoutMs)
}
