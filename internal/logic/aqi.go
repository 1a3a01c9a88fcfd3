package logic

// breakpoint is one segment of the PM2.5 AQI table: concentrations
// [cLow, cHigh] map linearly onto [iLow, iHigh].
type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh int
	level       Level
}

// US EPA PM2.5 (24h) breakpoints.
var pm25Table = []breakpoint{
	{0.0, 12.0, 0, 50, LevelGood},
	{12.1, 35.4, 51, 100, LevelModerate},
	{35.5, 55.4, 101, 150, LevelUnhealthyForSensitive},
	{55.5, 150.4, 151, 200, LevelUnhealthy},
	{150.5, 250.4, 201, 300, LevelVeryUnhealthy},
	{250.5, 350.4, 301, 400, LevelHazardous},
	{350.5, 500.4, 401, 500, LevelHazardous},
}

// AQI converts a PM2.5 concentration in µg/m³ to the index. Values above the
// table are clamped to 500.
func AQI(pm25 uint16) int {
	c := float64(pm25)
	for _, bp := range pm25Table {
		if c <= bp.cHigh {
			if c < bp.cLow {
				c = bp.cLow
			}
			v := float64(bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(c-bp.cLow) + float64(bp.iLow)
			return int(v + 0.5)
		}
	}
	return 500
}

// Classify returns the level for a PM2.5 concentration.
func Classify(pm25 uint16) Level {
	c := float64(pm25)
	for _, bp := range pm25Table {
		if c <= bp.cHigh {
			return bp.level
		}
	}
	return LevelHazardous
}
