package model

// Read models returned by the host data providers.

// GuestUsername is the host's anonymous account.
const GuestUsername = "guest"

// User is a host account.
type User struct {
	ID        int64
	Username  string
	LastLogin int64
}

// IsGuest reports whether u is the anonymous account.
func (u User) IsGuest() bool { return u.Username == GuestUsername }

// Course is a host course.
type Course struct {
	ID        int64
	ShortName string
	FullName  string
}

// ItemTypeCourse marks the course-total pseudo-item.
const ItemTypeCourse = "course"

// GradeItem is a gradebook column.
type GradeItem struct {
	ID              int64
	Name            string
	ItemType        string
	SortOrder       int64
	AggregationCoef float64
	GradeMin        float64
	GradeMax        float64
}

// IsCourseTotal reports whether the item is the course-total pseudo-item.
func (g GradeItem) IsCourseTotal() bool { return g.ItemType == ItemTypeCourse }

// Grade is one user's grade on one item. FinalGrade is nil when ungraded.
type Grade struct {
	ItemID     int64
	FinalGrade *float64
	Feedback   string
}

// CourseAccess summarises a user's access to a course.
type CourseAccess struct {
	FirstAccess int64
	LastAccess  int64
	Online      bool
}

// Dedication aggregates a user's tracked time in a course.
type Dedication struct {
	TotalSeconds int64
	Sessions     int64
	MeanSeconds  float64
}
