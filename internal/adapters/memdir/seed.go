package memdir

import (
	"fmt"

	"github.com/okian/lmsbridge/internal/domain/model"
)

// Seed ids used by the demo directory. Users are 2..users+1 (id 1 is the
// guest account), courses are 2..courses+1 (id 1 is the site course).
const (
	GuestUserID   int64 = 1
	FirstUserID   int64 = 2
	FirstCourseID int64 = 2
	FirstItemID   int64 = 1000

	// ItemsPerCourse counts the course total plus the weighted items.
	ItemsPerCourse = 4
)

// Seed fills d with a deterministic demo population: the guest account,
// users, and courses each with a course total and three weighted items.
func Seed(d *Directory, users, courses int) {
	d.PutUser(model.User{ID: GuestUserID, Username: model.GuestUsername})
	for i := 0; i < users; i++ {
		id := FirstUserID + int64(i)
		d.PutUser(model.User{ID: id, Username: fmt.Sprintf("student%03d", i+1), LastLogin: 1_700_000_000 + id})
	}

	itemID := FirstItemID
	for c := 0; c < courses; c++ {
		courseID := FirstCourseID + int64(c)
		d.PutCourse(model.Course{
			ID:        courseID,
			ShortName: fmt.Sprintf("C%03d", c+1),
			FullName:  fmt.Sprintf("Demo course %d", c+1),
		})
		d.PutGradeItem(courseID, model.GradeItem{ID: itemID, Name: "Course total", ItemType: model.ItemTypeCourse, SortOrder: 1, GradeMax: 100})
		itemID++
		for n, coef := range []float64{1, 2, 3} {
			d.PutGradeItem(courseID, model.GradeItem{
				ID:              itemID,
				Name:            fmt.Sprintf("Assignment %d", n+1),
				ItemType:        "mod",
				SortOrder:       int64(n + 2),
				AggregationCoef: coef,
				GradeMax:        10,
			})
			itemID++
		}
	}
}
