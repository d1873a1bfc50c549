package domain

import "fmt"

// CreatedFilter narrows a session listing by creation time, expressed in
// epoch milliseconds as callers submit it.
type CreatedFilter struct {
	Op  string `json:"op"`
	Val int64  `json:"val"`
}

var sqlOps = map[string]string{
	"lt":  "<",
	"gt":  ">",
	"eq":  "=",
	"lte": "<=",
	"gte": ">=",
	"ne":  "<>",
}

// SQLOp translates the filter operator to its SQL form. Returns an error for
// operators outside lt/gt/eq/lte/gte/ne.
func (f *CreatedFilter) SQLOp() (string, error) {
	op, ok := sqlOps[f.Op]
	if !ok {
		return "", fmt.Errorf("unknown filter operator %q", f.Op)
	}
	return op, nil
}

// Filter narrows a session listing.
type Filter struct {
	UserID  string         `json:"userId,omitempty"`
	Created *CreatedFilter `json:"createdMs,omitempty"`
}

// Page is a 1-indexed page request.
type Page struct {
	Size int
	Num  int
}
