package dlmscontent

import (
	"math"

	"github.com/p1decoder/p1core/pkg/dlmsdata"
	"github.com/p1decoder/p1core/pkg/obis"
)

// unitNames is the subset of the DLMS unit enum spec.md §4.7 lists.
var unitNames = map[int64]string{
	27: "W",
	28: "VA",
	29: "var",
	30: "Wh",
	31: "VAh",
	32: "varh",
	33: "A",
	34: "°C",
	35: "V",
}

// recognizer is one payload-shape rule: Match decides whether tree has
// this shape, Extract converts it into triples. Tried in chain order,
// first match wins.
type recognizer struct {
	name    string
	match   func(tree dlmsdata.Value) bool
	extract func(tree dlmsdata.Value) []Triple
}

// Recognize runs the default recognizer chain against tree, returning
// the triples of the first matching shape and its name, or a nil slice
// and "" if nothing matched.
func Recognize(tree dlmsdata.Value) ([]Triple, string) {
	for _, r := range defaultChain {
		if r.match(tree) {
			return r.extract(tree), r.name
		}
	}
	return nil, ""
}

var defaultChain = []recognizer{
	{name: "BasicList", match: matchBasicList, extract: extractBasicList},
	{name: "BasicStructure", match: matchBasicStructure, extract: extractBasicStructure},
	{name: "DescribedList", match: matchDescribedList, extract: extractDescribedList},
	{name: "IskraList", match: matchIskraList, extract: extractIskraList},
	{name: "ECEList1", match: matchECEList1, extract: extractECEList1},
	{name: "ECEList2", match: matchECEList2, extract: extractECEList2},
}

// BasicList: structure; [0] is the string "push list name"; subsequent
// entries alternate octet_string(OBIS) then value.
func matchBasicList(tree dlmsdata.Value) bool {
	if tree.Tag != dlmsdata.TagStructure || len(tree.Items) < 1 {
		return false
	}
	if tree.Items[0].Tag != dlmsdata.TagString {
		return false
	}
	rest := tree.Items[1:]
	if len(rest)%2 != 0 {
		return false
	}
	for i := 0; i+1 < len(rest); i += 2 {
		if _, ok := obisFromItem(rest[i]); !ok {
			return false
		}
	}
	return true
}

func extractBasicList(tree dlmsdata.Value) []Triple {
	var out []Triple
	rest := tree.Items[1:]
	for i := 0; i+1 < len(rest); i += 2 {
		code, ok := obisFromItem(rest[i])
		if !ok {
			continue
		}
		number, hasNumber, str := valueOf(rest[i+1])
		out = append(out, Triple{Code: code, HasNumber: hasNumber, Number: number, Str: str, UseDefaultScalar: true})
	}
	return out
}

// BasicStructure: structure whose entries are each structures of length
// 2 or 3, starting with an OBIS octet-string; an optional third entry is
// {scalar(int), enum(unit)}.
func matchBasicStructure(tree dlmsdata.Value) bool {
	if tree.Tag != dlmsdata.TagStructure || len(tree.Items) == 0 {
		return false
	}
	for _, item := range tree.Items {
		if item.Tag != dlmsdata.TagStructure || len(item.Items) < 2 || len(item.Items) > 3 {
			return false
		}
		if _, ok := obisFromItem(item.Items[0]); !ok {
			return false
		}
		if len(item.Items) == 3 {
			scale := item.Items[2]
			if scale.Tag != dlmsdata.TagStructure || len(scale.Items) != 2 {
				return false
			}
		}
	}
	return true
}

func extractBasicStructure(tree dlmsdata.Value) []Triple {
	var out []Triple
	for _, item := range tree.Items {
		code, ok := obisFromItem(item.Items[0])
		if !ok {
			continue
		}
		number, hasNumber, str := valueOf(item.Items[1])
		if !hasNumber {
			out = append(out, Triple{Code: code, Str: str})
			continue
		}
		if len(item.Items) == 3 {
			scalar := item.Items[2].Items[0].Int
			unit := unitNames[item.Items[2].Items[1].Int]
			number *= math.Pow10(int(scalar))
			out = append(out, Triple{Code: code, HasNumber: true, Number: number, Unit: unit})
			continue
		}
		out = append(out, Triple{Code: code, HasNumber: true, Number: number, UseDefaultScalar: true})
	}
	return out
}

// DescribedList: structure whose [0] is a descriptor structure the same
// length as the parent; [0].Items[n].Items[1] is each entry's OBIS code;
// values come from parent[1..] in order.
func matchDescribedList(tree dlmsdata.Value) bool {
	if tree.Tag != dlmsdata.TagStructure || len(tree.Items) < 2 {
		return false
	}
	descriptor := tree.Items[0]
	if descriptor.Tag != dlmsdata.TagStructure || len(descriptor.Items) != len(tree.Items) {
		return false
	}
	for n := 1; n < len(descriptor.Items); n++ {
		d := descriptor.Items[n]
		if d.Tag != dlmsdata.TagStructure || len(d.Items) < 2 {
			return false
		}
		if _, ok := obisFromItem(d.Items[1]); !ok {
			return false
		}
	}
	return true
}

func extractDescribedList(tree dlmsdata.Value) []Triple {
	descriptor := tree.Items[0]
	var out []Triple
	for n := 1; n < len(tree.Items); n++ {
		code, ok := obisFromItem(descriptor.Items[n].Items[1])
		if !ok {
			continue
		}
		number, hasNumber, str := valueOf(tree.Items[n])
		out = append(out, Triple{Code: code, HasNumber: hasNumber, Number: number, Str: str, UseDefaultScalar: true})
	}
	return out
}

// iskraListID is the fixed list marker OBIS the Iskra MX382 family uses
// as element 0 of its 12-entry fixed push list.
var iskraListID = obis.Code{Media: 0, Channel: 6, Physical: 25, Type: 9, Processing: 0, History: 255}

// iskraIndexCodes is the hardcoded index->OBIS mapping for the 11 data
// entries following the list-id marker, grounded on the common
// single/three-phase Iskra fixed push-list layout (total energy, then
// per-phase voltage, current, active power received).
var iskraIndexCodes = []string{
	"1-0:1.8.0",
	"1-0:2.8.0",
	"1-0:32.7.0",
	"1-0:52.7.0",
	"1-0:72.7.0",
	"1-0:31.7.0",
	"1-0:51.7.0",
	"1-0:71.7.0",
	"1-0:21.7.0",
	"1-0:41.7.0",
	"1-0:61.7.0",
}

// IskraList: structure of exactly 12 elements whose first element is
// OBIS 0-6:25.9.0.255.
func matchIskraList(tree dlmsdata.Value) bool {
	if tree.Tag != dlmsdata.TagStructure || len(tree.Items) != 12 {
		return false
	}
	code, ok := obisFromItem(tree.Items[0])
	return ok && code.Equal(iskraListID)
}

func extractIskraList(tree dlmsdata.Value) []Triple {
	var out []Triple
	for i, pattern := range iskraIndexCodes {
		code, err := obis.Parse(pattern)
		if err != nil {
			continue
		}
		number, hasNumber, str := valueOf(tree.Items[i+1])
		out = append(out, Triple{Code: code, HasNumber: hasNumber, Number: number, Str: str, UseDefaultScalar: true})
	}
	return out
}

// eceList1Codes/eceList2Codes are the fixed OBIS/position schemas for the
// single-phase (5-element) and three-phase (9-element) ECE push lists:
// a list-type enum marker, total energy received, current tariff, then
// per-phase voltage/current.
var eceList1Codes = []string{"", "1-0:1.8.0", "0-0:96.14.0", "1-0:32.7.0", "1-0:31.7.0"}
var eceList2Codes = []string{
	"", "1-0:1.8.0", "0-0:96.14.0",
	"1-0:32.7.0", "1-0:52.7.0", "1-0:72.7.0",
	"1-0:31.7.0", "1-0:51.7.0", "1-0:71.7.0",
}

func matchECEList1(tree dlmsdata.Value) bool {
	return matchECEShape(tree, len(eceList1Codes))
}

func extractECEList1(tree dlmsdata.Value) []Triple {
	return extractECEShape(tree, eceList1Codes)
}

func matchECEList2(tree dlmsdata.Value) bool {
	return matchECEShape(tree, len(eceList2Codes))
}

func extractECEList2(tree dlmsdata.Value) []Triple {
	return extractECEShape(tree, eceList2Codes)
}

func matchECEShape(tree dlmsdata.Value, length int) bool {
	if tree.Tag != dlmsdata.TagStructure || len(tree.Items) != length {
		return false
	}
	switch tree.Items[0].Tag {
	case dlmsdata.TagEnum, dlmsdata.TagU8:
	default:
		return false
	}
	for i := 1; i < len(tree.Items); i++ {
		switch tree.Items[i].Tag {
		case dlmsdata.TagU8, dlmsdata.TagU16, dlmsdata.TagU32,
			dlmsdata.TagI8, dlmsdata.TagI16, dlmsdata.TagI32, dlmsdata.TagEnum:
		default:
			return false
		}
	}
	return true
}

func extractECEShape(tree dlmsdata.Value, codes []string) []Triple {
	var out []Triple
	for i := 1; i < len(tree.Items) && i < len(codes); i++ {
		code, err := obis.Parse(codes[i])
		if err != nil {
			continue
		}
		number, hasNumber, _ := valueOf(tree.Items[i])
		out = append(out, Triple{Code: code, HasNumber: hasNumber, Number: number, UseDefaultScalar: true})
	}
	return out
}
