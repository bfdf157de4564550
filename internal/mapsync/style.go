package mapsync

import "strings"

// MarkerStyle is the visual treatment of a property marker.
type MarkerStyle struct {
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// HotPriceThreshold is the monthly price under which a marker carries the
// "Hot" badge.
const HotPriceThreshold = 1000

var defaultStyle = MarkerStyle{Color: "#3B82F6", Icon: "🏠"}

var stylesByType = map[string]MarkerStyle{
	"land":       {Color: "#10B981", Icon: "📍"},
	"commercial": {Color: "#F59E0B", Icon: "🏢"},
	"apartment":  {Color: "#8B5CF6", Icon: "🏘️"},
}

// StyleFor returns the marker style for a property type. Matching is
// case-insensitive; unknown and empty types get the house style.
func StyleFor(propertyType string) MarkerStyle {
	if s, ok := stylesByType[strings.ToLower(strings.TrimSpace(propertyType))]; ok {
		return s
	}
	return defaultStyle
}

// IsHot reports whether a price earns the "Hot" badge. A zero price is
// unknown, not cheap.
func IsHot(pricePerMonth float64) bool {
	return pricePerMonth > 0 && pricePerMonth < HotPriceThreshold
}
