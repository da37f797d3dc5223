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

package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var packedVersionPattern = regexp.MustCompile(`^v\d{6}$`)

// VersionKey encodes a 1-3 part semantic version ("4.1", "3.4.2") as
// v%02d%02d%02d. Missing parts are zero.
func VersionKey(semver string) (string, error) {
	semver = strings.TrimSpace(semver)
	if semver == "" {
		return "", fmt.Errorf("empty version")
	}
	parts := strings.Split(semver, ".")
	if len(parts) > 3 {
		return "", fmt.Errorf("version %q has more than 3 parts", semver)
	}
	var vl [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", fmt.Errorf("version %q: invalid part %q", semver, p)
		}
		vl[i] = n
	}
	return fmt.Sprintf("v%02d%02d%02d", vl[0], vl[1], vl[2]), nil
}

// VersionKeyFromToken converts a version token embedded in a file name to a
// version key. Tokens are either already packed ("v040204") or dotted
// ("v4.2.4").
func VersionKeyFromToken(tok string) (string, error) {
	lower := strings.ToLower(tok)
	if packedVersionPattern.MatchString(lower) {
		return lower, nil
	}
	return VersionKey(strings.TrimPrefix(lower, "v"))
}

// StripDEMID builds pairname_resstr_versionkey.
func StripDEMID(pairname, resStr, versionKey string) string {
	return strings.Join([]string{pairname, resStr, versionKey}, "_")
}

// StripDirName builds the strip directory name used to group strip records.
// LSF strips carry an _lsf marker after the resolution.
func StripDirName(pairname, resStr string, lsf bool, versionKey string) string {
	res := resStr
	if lsf {
		res += "_lsf"
	}
	return strings.Join([]string{pairname, res, versionKey}, "_")
}

// SupertileID builds tilename_res.
func SupertileID(tilename, res string) string {
	return tilename + "_" + res
}

// DSPSceneID rebuilds the pre-downsampling scene id from a downsampled
// scene id by replacing the resolution code in its last token with origCode.
// The subtile part of the token is kept.
func DSPSceneID(sceneid, origCode string) string {
	i := strings.LastIndex(sceneid, "_")
	if i < 0 || i == len(sceneid)-1 {
		return sceneid
	}
	suffix := sceneid[i+1:]
	return sceneid[:i] + "_" + origCode + suffix[1:]
}
