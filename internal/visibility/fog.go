// Package visibility computes fog-of-war: which map markers a viewer can see.
package visibility

import (
	"math"

	"dragons-keep/server/internal/geometry"
)

// DefaultSightRadius is the sight distance used when a room does not set one.
const DefaultSightRadius = 40.0

// Marker is a point of interest placed on the campaign map.
type Marker struct {
	ID       string        `json:"id"`
	Position geometry.Vec2 `json:"position"`
	Color    string        `json:"color,omitempty"`
}

// Area is a circular region the game master has revealed.
type Area struct {
	Center geometry.Vec2 `json:"center"`
	Radius float64       `json:"r"`
}

// Contains reports whether p lies inside the area, edge included.
func (a Area) Contains(p geometry.Vec2) bool {
	if !(a.Radius >= 0) {
		return false
	}
	return geometry.Distance(a.Center, p) <= a.Radius
}

// VisibleMarkers returns the markers within sightRadius of viewer, in input
// order. A NaN or negative radius sees nothing; +Inf sees everything.
func VisibleMarkers(viewer geometry.Vec2, sightRadius float64, markers []Marker) []Marker {
	visible := make([]Marker, 0, len(markers))
	if math.IsNaN(sightRadius) || sightRadius < 0 {
		return visible
	}
	for _, marker := range markers {
		if geometry.Distance(viewer, marker.Position) <= sightRadius {
			visible = append(visible, marker)
		}
	}
	return visible
}

// Field is the fog configuration of a room.
type Field struct {
	Enabled     bool    `json:"enabled"`
	SightRadius float64 `json:"sightRadius"`
	Revealed    []Area  `json:"revealed,omitempty"`
}

// Radius returns the effective sight radius: infinite when fog is off.
func (f Field) Radius() float64 {
	if !f.Enabled {
		return math.Inf(1)
	}
	return f.SightRadius
}

// Visible filters markers for a viewer at the given position. Markers inside
// a revealed area stay visible even beyond the sight radius.
func (f Field) Visible(viewer geometry.Vec2, markers []Marker) []Marker {
	radius := f.Radius()
	if math.IsInf(radius, 1) {
		return append(make([]Marker, 0, len(markers)), markers...)
	}
	visible := make([]Marker, 0, len(markers))
	for _, marker := range markers {
		if geometry.Distance(viewer, marker.Position) <= radius || f.revealed(marker.Position) {
			visible = append(visible, marker)
		}
	}
	return visible
}

func (f Field) revealed(p geometry.Vec2) bool {
	for _, area := range f.Revealed {
		if area.Contains(p) {
			return true
		}
	}
	return false
}
