package config

const (
	TestSectionName     = "test"
	RegionSectionPrefix = "region."

	// [test] keys
	ModeKey                 = "mode"
	LogLevelKey             = "log_level"
	AddressStrideKey        = "address_stride"
	ButterflyPairsKey       = "butterfly_pairs"
	ReportIntervalKey       = "report_interval_ms"
	AdvancedIntervalKey     = "advanced_interval"
	ConfigReportIntervalKey = "config_report_interval"
	RotateOffsetsKey        = "rotate_offsets"
	RotateSizesKey          = "rotate_sizes"
	SizeTierPeriodKey       = "size_tier_period"
	CacheTestOffsetKey      = "cache_test_offset"
	MarchBackgroundKey      = "march_background"
	GalpatMaxBytesKey       = "galpat_max_bytes"
	WatchdogTimeoutKey      = "watchdog_timeout_ms"

	// [region.<name>] keys
	BaseKey   = "base"
	SizeKey   = "size"
	OffsetKey = "offset"
	WindowKey = "window"
	MarginKey = "margin"
	StrideKey = "stride"
	TiersKey  = "tiers"
)
