package domain

// GrowthCategory buckets a year-over-year change
type GrowthCategory string

const (
	GrowthContraction GrowthCategory = "Contraction"
	GrowthStable      GrowthCategory = "Stable"
	GrowthGrowth      GrowthCategory = "Growth"
)

// StableBand is the absolute yoy change still considered Stable
const StableBand = 0.02

// AnomalyThreshold is the absolute z-score above which a value is an anomaly
const AnomalyThreshold = 3.0

// CategorizeGrowth maps a yoy change to its category; nil in, nil out
func CategorizeGrowth(yoy *float64) *GrowthCategory {
	if yoy == nil {
		return nil
	}
	var c GrowthCategory
	switch {
	case *yoy < -StableBand:
		c = GrowthContraction
	case *yoy > StableBand:
		c = GrowthGrowth
	default:
		c = GrowthStable
	}
	return &c
}

// IsAnomaly reports whether a z-score marks an anomaly
func IsAnomaly(z *float64) bool {
	if z == nil {
		return false
	}
	return *z > AnomalyThreshold || *z < -AnomalyThreshold
}

// GoldRecord is a silver record enriched with per-series analytics
type GoldRecord struct {
	SilverRecord
	YoYChange      *float64        `json:"yoy_change" db:"yoy_change"`
	MovingAverage  *float64        `json:"moving_average" db:"moving_average"`
	ZScore         *float64        `json:"zscore" db:"zscore"`
	GrowthCategory *GrowthCategory `json:"growth_category" db:"growth_category"`
	IsAnomaly      bool            `json:"is_anomaly" db:"is_anomaly"`
}

// SeriesKey groups gold computations by country and indicator
type SeriesKey struct {
	Country   string
	Indicator string
}

// Series returns the grouping key of the record
func (r SilverRecord) Series() SeriesKey {
	return SeriesKey{Country: r.Country, Indicator: r.Indicator}
}
