package board

import (
	"slices"
	"strings"
)

// Group is one category of a matrix.
type Group struct {
	Category string   `json:"category"`
	Records  []Record `json:"records"`
}

// Matrix is the display view of one scope: categories in lexicographic order,
// records within a category in lexicographic order by KPI name.
type Matrix struct {
	Groups []Group `json:"groups"`
}

// BuildMatrix groups records by category and sorts both levels. The input
// order has no effect on the result. Later duplicates of a record key replace
// earlier ones.
func BuildMatrix(records []Record) Matrix {
	byCategory := map[string]map[string]Record{}
	for _, record := range records {
		group, ok := byCategory[record.Category]
		if !ok {
			group = map[string]Record{}
			byCategory[record.Category] = group
		}
		group[record.KPIName] = record
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	slices.Sort(categories)

	matrix := Matrix{Groups: make([]Group, 0, len(categories))}
	for _, category := range categories {
		group := Group{Category: category}
		for _, record := range byCategory[category] {
			group.Records = append(group.Records, record)
		}
		slices.SortFunc(group.Records, func(a, b Record) int {
			return strings.Compare(a.KPIName, b.KPIName)
		})
		matrix.Groups = append(matrix.Groups, group)
	}
	return matrix
}

// Clone returns a deep copy of m.
func (m Matrix) Clone() Matrix {
	out := Matrix{Groups: make([]Group, len(m.Groups))}
	for i, group := range m.Groups {
		out.Groups[i] = Group{Category: group.Category, Records: slices.Clone(group.Records)}
	}
	return out
}

// ApplyFieldEdit returns a copy of m with one field of one record replaced.
// It never fails: an unknown record yields an unchanged copy.
func ApplyFieldEdit(m Matrix, category, kpiName string, field Field, value string) Matrix {
	out := m.Clone()
	for gi := range out.Groups {
		if out.Groups[gi].Category != category {
			continue
		}
		for ri := range out.Groups[gi].Records {
			if out.Groups[gi].Records[ri].KPIName == kpiName {
				out.Groups[gi].Records[ri] = out.Groups[gi].Records[ri].With(field, value)
				return out
			}
		}
	}
	return out
}

func (m Matrix) Find(category, kpiName string) (Record, bool) {
	for _, group := range m.Groups {
		if group.Category != category {
			continue
		}
		for _, record := range group.Records {
			if record.KPIName == kpiName {
				return record, true
			}
		}
	}
	return Record{}, false
}

// Records flattens m in display order.
func (m Matrix) Records() []Record {
	var out []Record
	for _, group := range m.Groups {
		out = append(out, group.Records...)
	}
	return out
}

func (m Matrix) Len() int {
	n := 0
	for _, group := range m.Groups {
		n += len(group.Records)
	}
	return n
}
