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

package metadata

import (
	"errors"
	"io"
	"strconv"
	"strings"
)

// Registration line labels.
const (
	labelTranslation = "Translation Vector (dz,dx,dy)"
	labelMeanResid   = "Mean Vertical Residual"
	labelNumGCPs     = "# GCPs"
)

// Registration is the content of a strip _reg.txt style file.
type Registration struct {
	DX, DY, DZ float64
	NumGCPs    int
	MeanResidZ float64
}

// ParseReg reads a fixed-label registration file. A file lacking the
// translation vector, the GCP count or the mean residual is reported as a
// *ParseError.
func ParseReg(r io.Reader, file string) (*Registration, error) {
	var (
		reg                         Registration
		haveVec, haveGCPs, haveMean bool
	)
	err := scanLines(r, func(n int, l string) error {
		_, v, found := strings.Cut(l, "=")
		bad := func(reason string) error {
			return &ParseError{File: file, Line: n, Text: l, Reason: reason}
		}
		switch {
		case strings.HasPrefix(l, labelTranslation):
			parts := strings.Split(v, ",")
			if !found || len(parts) != 3 {
				return bad("expected dz,dx,dy")
			}
			vals := make([]float64, 3)
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					return bad("invalid translation component")
				}
				vals[i] = f
			}
			reg.DZ, reg.DX, reg.DY = vals[0], vals[1], vals[2]
			haveVec = true
		case strings.HasPrefix(l, labelMeanResid):
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if !found || err != nil {
				return bad("invalid mean vertical residual")
			}
			reg.MeanResidZ = f
			haveMean = true
		case strings.HasPrefix(l, labelNumGCPs):
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if !found || err != nil {
				return bad("invalid GCP count")
			}
			reg.NumGCPs = int(f)
			haveGCPs = true
		}
		return nil
	})
	if !haveVec || !haveGCPs || !haveMean {
		err = errors.Join(err, &ParseError{File: file, Reason: "registration file cannot be parsed"})
		return nil, err
	}
	return &reg, err
}

// ReadReg opens path and parses it with ParseReg.
func ReadReg(path string) (*Registration, error) {
	return withFile(path, ParseReg)
}
