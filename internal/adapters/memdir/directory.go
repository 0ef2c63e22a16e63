// Package memdir is an in-memory host directory implementing every payload
// data provider. The service uses it when no host database is configured.
package memdir

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/lmsbridge/internal/domain/model"
)

type key struct{ user, course int64 }

// Directory holds users, courses, gradebooks and activity in memory.
type Directory struct {
	mu sync.RWMutex

	users      map[int64]model.User
	courses    map[int64]model.Course
	items      map[int64][]model.GradeItem
	grades     map[key][]model.Grade
	access     map[key]model.CourseAccess
	dedication map[key]model.Dedication
	completion map[key]float64
	groups     map[key][]string
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		users:      make(map[int64]model.User),
		courses:    make(map[int64]model.Course),
		items:      make(map[int64][]model.GradeItem),
		grades:     make(map[key][]model.Grade),
		access:     make(map[key]model.CourseAccess),
		dedication: make(map[key]model.Dedication),
		completion: make(map[key]float64),
		groups:     make(map[key][]string),
	}
}

// PutUser adds or replaces a user.
func (d *Directory) PutUser(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// PutCourse adds or replaces a course.
func (d *Directory) PutCourse(c model.Course) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.courses[c.ID] = c
}

// PutGradeItem adds or replaces a grade item in a course.
func (d *Directory) PutGradeItem(courseID int64, it model.GradeItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.items[courseID]
	for i := range list {
		if list[i].ID == it.ID {
			list[i] = it
			return
		}
	}
	d.items[courseID] = append(list, it)
}

// RemoveGradeItem deletes a grade item from a course.
func (d *Directory) RemoveGradeItem(courseID, itemID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.items[courseID]
	for i := range list {
		if list[i].ID == itemID {
			d.items[courseID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// PutGrade adds or replaces a user's grade on an item.
func (d *Directory) PutGrade(userID, courseID int64, g model.Grade) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key{userID, courseID}
	list := d.grades[k]
	for i := range list {
		if list[i].ItemID == g.ItemID {
			list[i] = g
			return
		}
	}
	d.grades[k] = append(list, g)
}

// PutAccess sets a user's course access summary.
func (d *Directory) PutAccess(userID, courseID int64, a model.CourseAccess) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.access[key{userID, courseID}] = a
}

// PutDedication sets a user's dedication aggregate and completion percentage.
func (d *Directory) PutDedication(userID, courseID int64, ded model.Dedication, completion float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := key{userID, courseID}
	d.dedication[k] = ded
	d.completion[k] = completion
}

// PutGroups sets the groups a user belongs to in a course.
func (d *Directory) PutGroups(userID, courseID int64, names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[key{userID, courseID}] = append([]string(nil), names...)
}

// UserByID implements payload.Users.
func (d *Directory) UserByID(_ context.Context, id int64) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return u, nil
}

// UserByUsername implements payload.Users.
func (d *Directory) UserByUsername(_ context.Context, username string) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user %q: %w", username, model.ErrNotFound)
}

// Course implements payload.Courses.
func (d *Directory) Course(_ context.Context, id int64) (model.Course, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.courses[id]
	if !ok {
		return model.Course{}, fmt.Errorf("course %d: %w", id, model.ErrNotFound)
	}
	return c, nil
}

// GradeItems implements payload.Gradebook.
func (d *Directory) GradeItems(_ context.Context, courseID int64) ([]model.GradeItem, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := append([]model.GradeItem(nil), d.items[courseID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// UserGrades implements payload.Gradebook.
func (d *Directory) UserGrades(_ context.Context, userID, courseID int64) ([]model.Grade, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Grade(nil), d.grades[key{userID, courseID}]...), nil
}

// CourseAccess implements payload.Activity.
func (d *Directory) CourseAccess(_ context.Context, userID, courseID int64) (model.CourseAccess, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.access[key{userID, courseID}], nil
}

// Dedication implements payload.Tracking.
func (d *Directory) Dedication(_ context.Context, userID, courseID int64) (model.Dedication, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ded, ok := d.dedication[key{userID, courseID}]
	if !ok {
		return model.Dedication{}, fmt.Errorf("dedication: %w", model.ErrNotFound)
	}
	return ded, nil
}

// CompletionPercentage implements payload.Tracking.
func (d *Directory) CompletionPercentage(_ context.Context, userID, courseID int64) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	pct, ok := d.completion[key{userID, courseID}]
	if !ok {
		return 0, fmt.Errorf("completion: %w", model.ErrNotFound)
	}
	return pct, nil
}

// UserGroups implements payload.Groups.
func (d *Directory) UserGroups(_ context.Context, userID, courseID int64) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.groups[key{userID, courseID}]...), nil
}
