package access

import (
	"fmt"

	"github.com/gaspipe/docvault/pkg/documents"
	"github.com/lib/pq"
)

// target describes how one kind of item is joined to its service grants
type target struct {
	grants  string
	itemCol string
	alias   string
	rights  map[documents.Right]string
}

var (
	documentTarget = target{
		grants:  "document_services",
		itemCol: "document_id",
		alias:   "d",
		rights: map[documents.Right]string{
			documents.RightView:   "can_view",
			documents.RightEdit:   "can_edit",
			documents.RightDelete: "can_delete",
		},
	}
	// objects carry no delete flag; deleting needs edit
	objectTarget = target{
		grants:  "object_services",
		itemCol: "object_id",
		alias:   "o",
		rights: map[documents.Right]string{
			documents.RightView:   "can_view",
			documents.RightEdit:   "can_edit",
			documents.RightDelete: "can_edit",
		},
	}
)

// predicate renders the scope condition for the item aliased t.alias.
// arg is the placeholder index bound to the scope array.
func (t target) predicate(arg int, right documents.Right) string {
	flag, ok := t.rights[right]
	if !ok {
		return "FALSE"
	}
	return fmt.Sprintf(
		`EXISTS (SELECT 1 FROM %s sg WHERE sg.%s = %s.id AND sg.service_id = ANY($%d) AND sg.%s)`,
		t.grants, t.itemCol, t.alias, arg, flag)
}

// DocumentScope returns the visibility condition for documents aliased d,
// with the scope bound to placeholder $arg. Every scoped document query
// uses it.
func DocumentScope(arg int) string {
	return documentTarget.predicate(arg, documents.RightView)
}

// ObjectScope returns the visibility condition for objects aliased o
func ObjectScope(arg int) string {
	return objectTarget.predicate(arg, documents.RightView)
}

// ScopeArg returns the query parameter for a scope built by VisibleServiceIDs
func ScopeArg(scope []int64) interface{} {
	return pq.Array(scope)
}
