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

package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// coerce converts v to the Go type stored for def: int64 for integers,
// float64 for reals and string for strings. Booleans become 0 or 1.
func coerce(def FieldDef, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch def.Type {
	case FieldInteger:
		switch x := v.(type) {
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("field %s: %v is not an integer", def.Name, x)
			}
			return int64(x), nil
		case string:
			if x == "" {
				return nil, nil
			}
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", def.Name, err)
			}
			return n, nil
		}
	case FieldReal:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		case *float64:
			if x == nil {
				return nil, nil
			}
			return *x, nil
		case string:
			if x == "" {
				return nil, nil
			}
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", def.Name, err)
			}
			return f, nil
		}
	default:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		case bool, int, int32, int64:
			return fmt.Sprint(x), nil
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64), nil
		}
	}
	return nil, fmt.Errorf("field %s: unsupported %s value of type %T", def.Name, def.Type, v)
}

// coerceAttrs applies coerce to every attribute, keyed by the field names
// of the layer.
func coerceAttrs(fields []FieldDef, attrs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		i := fieldIndex(fields, k)
		if i < 0 {
			continue
		}
		c, err := coerce(fields[i], v)
		if err != nil {
			return nil, err
		}
		out[fields[i].Name] = c
	}
	return out, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
