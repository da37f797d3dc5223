// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package dem

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/kraklabs/demindex/pkg/proj"
)

// tagged is the wire form of values that are not plain JSON scalars.
type tagged struct {
	Datetime bool   `json:"__datetime__,omitempty"`
	Geometry bool   `json:"__geometry__,omitempty"`
	SRS      bool   `json:"__srs__,omitempty"`
	Value    string `json:"value"`
}

func decodeTagged(data []byte, kind string, ok func(tagged) bool) (string, error) {
	var t tagged
	if err := json.Unmarshal(data, &t); err != nil {
		return "", fmt.Errorf("decode %s: %w", kind, err)
	}
	if !ok(t) {
		return "", fmt.Errorf("decode %s: missing __%s__ marker", kind, kind)
	}
	return t.Value, nil
}

// Time is a timestamp encoded as {"__datetime__": true, "value": RFC3339}.
type Time struct {
	time.Time
}

// NewTime wraps t.
func NewTime(t time.Time) Time { return Time{Time: t} }

// TimePtr wraps t and returns a pointer to it.
func TimePtr(t time.Time) *Time { return &Time{Time: t} }

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(tagged{Datetime: true, Value: t.Format(time.RFC3339Nano)})
}

func (t *Time) UnmarshalJSON(data []byte) error {
	v, err := decodeTagged(data, "datetime", func(t tagged) bool { return t.Datetime })
	if err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return fmt.Errorf("decode datetime: %w", err)
	}
	t.Time = parsed
	return nil
}

// Geometry is a footprint encoded as {"__geometry__": true, "value": WKT}.
type Geometry struct {
	orb.Polygon
}

// NewGeometry wraps p.
func NewGeometry(p orb.Polygon) *Geometry { return &Geometry{Polygon: p} }

func (g Geometry) MarshalJSON() ([]byte, error) {
	return json.Marshal(tagged{Geometry: true, Value: wkt.MarshalString(g.Polygon)})
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	v, err := decodeTagged(data, "geometry", func(t tagged) bool { return t.Geometry })
	if err != nil {
		return err
	}
	parsed, err := wkt.Unmarshal(v)
	if err != nil {
		return fmt.Errorf("decode geometry: %w", err)
	}
	p, ok := parsed.(orb.Polygon)
	if !ok {
		return fmt.Errorf("decode geometry: expected polygon, got %s", parsed.GeoJSONType())
	}
	g.Polygon = p
	return nil
}

// SpatialRef is a spatial reference encoded as {"__srs__": true,
// "value": WKT}.
type SpatialRef struct {
	*proj.SRS
}

func (s SpatialRef) MarshalJSON() ([]byte, error) {
	if s.SRS == nil {
		return nil, errors.New("encode srs: nil spatial reference")
	}
	return json.Marshal(tagged{SRS: true, Value: s.WKT()})
}

func (s *SpatialRef) UnmarshalJSON(data []byte) error {
	v, err := decodeTagged(data, "srs", func(t tagged) bool { return t.SRS })
	if err != nil {
		return err
	}
	srs, err := proj.FromWKT(v)
	if err != nil {
		return fmt.Errorf("decode srs: %w", err)
	}
	s.SRS = srs
	return nil
}
