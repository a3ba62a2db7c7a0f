package search

import "testing"

func TestValidateDefaults(t *testing.T) {
	c := Criteria{}
	if err := c.Validate(10, 20); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.SortBy != SortDefault {
		t.Errorf("SortBy = %q, want %q", c.SortBy, SortDefault)
	}
	if c.SortOrder != OrderDesc {
		t.Errorf("SortOrder = %q, want %q", c.SortOrder, OrderDesc)
	}
	if c.Page != 1 {
		t.Errorf("Page = %d, want 1", c.Page)
	}
	if c.ItemsPerPage != 10 {
		t.Errorf("ItemsPerPage = %d, want 10", c.ItemsPerPage)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name  string
		c     Criteria
		field string
	}{
		{"unknown type", Criteria{Types: []string{"artwork"}}, "type"},
		{"unknown sort", Criteria{SortBy: "relevancy"}, "sort"},
		{"unknown order", Criteria{SortOrder: "sideways"}, "order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate(10, 20)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Validate() error type = %T, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestValidateClampsItemsPerPage(t *testing.T) {
	c := Criteria{ItemsPerPage: 500}
	if err := c.Validate(10, 20); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if c.ItemsPerPage != 20 {
		t.Errorf("ItemsPerPage = %d, want 20", c.ItemsPerPage)
	}
}

func TestValidateAcceptsAllSorts(t *testing.T) {
	for _, sort := range []string{SortDefault, SortDate, SortRating, SortViews} {
		c := Criteria{SortBy: sort, SortOrder: OrderAsc}
		if err := c.Validate(10, 20); err != nil {
			t.Errorf("Validate(sort=%q) error = %v", sort, err)
		}
	}
}

func TestJoinOr(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"smith"}, "smith"},
		{[]string{"smith", "jones"}, "smith or jones"},
		{[]string{" smith ", "", "jones"}, "smith or jones"},
	}
	for _, tt := range tests {
		if got := joinOr(tt.in); got != tt.want {
			t.Errorf("joinOr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPages(t *testing.T) {
	tests := []struct {
		total int64
		ipp   int
		want  int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{95, 10, 10},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := Pages(tt.total, tt.ipp); got != tt.want {
			t.Errorf("Pages(%d, %d) = %d, want %d", tt.total, tt.ipp, got, tt.want)
		}
	}
}
