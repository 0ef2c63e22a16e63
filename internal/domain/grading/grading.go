// Package grading derives the weighted grade-item breakdown of a course.
//
// Weighting rule: the course-total pseudo-item is excluded; when the
// remaining aggregation coefficients sum to a positive value each item
// receives 100*coef/sum, otherwise every item receives 100/N. Coefficients
// are taken as stored, sign included, so the weights always total 100.
package grading

import (
	"math"
	"sort"
	"strconv"

	"github.com/okian/lmsbridge/internal/domain/model"
)

const fullWeight = 100.0

// View is one grade item as sent to the business system.
type View struct {
	ItemID     int64    `json:"itemid"`
	Name       string   `json:"name"`
	Weight     float64  `json:"weight"`
	Grade      *float64 `json:"grade"`
	Range      string   `json:"range"`
	Percentage *float64 `json:"percentage"`
	Feedback   string   `json:"feedback"`
}

// ComputeWeights returns each gradable item's share of the course weight,
// keyed by item id. The course-total item never appears in the result.
func ComputeWeights(items []model.GradeItem) map[int64]float64 {
	weights := make(map[int64]float64, len(items))

	var sum float64
	n := 0
	for _, it := range items {
		if it.IsCourseTotal() {
			continue
		}
		n++
		sum += it.AggregationCoef
	}
	if n == 0 {
		return weights
	}

	for _, it := range items {
		if it.IsCourseTotal() {
			continue
		}
		if sum > 0 {
			weights[it.ID] = fullWeight * it.AggregationCoef / sum
		} else {
			weights[it.ID] = fullWeight / float64(n)
		}
	}
	return weights
}

// Views builds the per-user breakdown, ordered by the course sort order.
// Items with no entry in grades are reported ungraded.
func Views(items []model.GradeItem, grades []model.Grade) []View {
	byItem := make(map[int64]model.Grade, len(grades))
	for _, g := range grades {
		byItem[g.ItemID] = g
	}

	weights := ComputeWeights(items)
	out := make([]View, 0, len(weights))
	for _, it := range sorted(items) {
		if it.IsCourseTotal() {
			continue
		}
		v := View{
			ItemID: it.ID,
			Name:   it.Name,
			Weight: weights[it.ID],
			Range:  RangeLabel(it.GradeMin, it.GradeMax),
		}
		if g, ok := byItem[it.ID]; ok {
			v.Feedback = g.Feedback
			if g.FinalGrade != nil {
				grade := Round2(*g.FinalGrade)
				v.Grade = &grade
				v.Percentage = percentage(*g.FinalGrade, it.GradeMin, it.GradeMax)
			}
		}
		out = append(out, v)
	}
	return out
}

// StructureViews lists the course's items without user data, used for
// gradebook structure changes.
func StructureViews(items []model.GradeItem) []View {
	return Views(items, nil)
}

// Round2 rounds v half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RangeLabel renders "{min}-{max}" without trailing zeros.
func RangeLabel(lo, hi float64) string {
	return strconv.FormatFloat(lo, 'f', -1, 64) + "-" + strconv.FormatFloat(hi, 'f', -1, 64)
}

func percentage(grade, lo, hi float64) *float64 {
	if hi <= lo {
		return nil
	}
	p := Round2((grade - lo) / (hi - lo) * fullWeight)
	return &p
}

func sorted(items []model.GradeItem) []model.GradeItem {
	out := make([]model.GradeItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}
