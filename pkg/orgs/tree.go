package orgs

import "sort"

// forest indexes the departments of one service by id
type forest map[int64]*Department

func newForest(depts []Department) forest {
	f := make(forest, len(depts))
	for i := range depts {
		f[depts[i].ID] = &depts[i]
	}
	return f
}

// wouldCycle reports whether making parentID the parent of id would put id
// on its own ancestor chain
func (f forest) wouldCycle(id, parentID int64) bool {
	seen := make(map[int64]bool)
	for cur := parentID; ; {
		if cur == id || seen[cur] {
			return true
		}
		seen[cur] = true

		d, ok := f[cur]
		if !ok || d.ParentID == nil {
			return false
		}
		cur = *d.ParentID
	}
}

// levels returns the depth of every department, roots being level 0
func (f forest) levels() map[int64]int {
	depth := make(map[int64]int, len(f))
	var walk func(id int64, guard int) int
	walk = func(id int64, guard int) int {
		if lvl, ok := depth[id]; ok {
			return lvl
		}
		d := f[id]
		lvl := 0
		if d.ParentID != nil && guard < len(f) {
			if _, ok := f[*d.ParentID]; ok {
				lvl = walk(*d.ParentID, guard+1) + 1
			}
		}
		depth[id] = lvl
		return lvl
	}
	for id := range f {
		walk(id, 0)
	}
	return depth
}

// BuildTree arranges departments into a forest of nodes. Children are sorted
// by name; a department whose parent is absent is treated as a root.
func BuildTree(depts []Department) []*DepartmentNode {
	nodes := make(map[int64]*DepartmentNode, len(depts))
	for _, d := range depts {
		nodes[d.ID] = &DepartmentNode{Department: d, Children: []*DepartmentNode{}}
	}

	roots := make([]*DepartmentNode, 0)
	for _, d := range depts {
		node := nodes[d.ID]
		if d.ParentID != nil {
			if parent, ok := nodes[*d.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	visited := make(map[int64]bool, len(nodes))
	var sortNodes func([]*DepartmentNode)
	sortNodes = func(list []*DepartmentNode) {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Name != list[j].Name {
				return list[i].Name < list[j].Name
			}
			return list[i].ID < list[j].ID
		})
		for _, n := range list {
			if visited[n.ID] {
				continue
			}
			visited[n.ID] = true
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)
	return roots
}
