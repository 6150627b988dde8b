package lockmgr

// waitForGraph tracks "tid is waiting on holder" edges and rejects an
// edge that would close a cycle, which is how deadlock is detected
// before anyone actually blocks. Grounded on the DFS-based
// WaitForGraph in original_source/lstore/lock.py (add_edge / detect_cycle)
// and on the teacher's waitGraph+checkDeadlock pattern in
// manager.LockManager.
type waitForGraph struct {
	edges map[int64]map[int64]struct{} // tid -> set of transactions it waits on
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{edges: make(map[int64]map[int64]struct{})}
}

// addEdge records that tid waits on holder. It refuses the edge (and
// leaves the graph unchanged) if adding it would create a cycle,
// returning false in that case.
func (g *waitForGraph) addEdge(tid, holder int64) bool {
	if tid == holder {
		return true
	}
	if g.hasPath(holder, tid) {
		return false
	}
	set, ok := g.edges[tid]
	if !ok {
		set = make(map[int64]struct{})
		g.edges[tid] = set
	}
	set[holder] = struct{}{}
	return true
}

// hasPath reports whether there is a directed path from -> to via
// depth-first search over the wait-for edges.
func (g *waitForGraph) hasPath(from, to int64) bool {
	if from == to {
		return true
	}
	visited := make(map[int64]bool)
	var dfs func(int64) bool
	dfs = func(n int64) bool {
		if visited[n] {
			return false
		}
		visited[n] = true
		for next := range g.edges[n] {
			if next == to || dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(from)
}

// removeTransaction drops every edge into or out of tid, used once a
// transaction's request is granted, or it is aborted as a deadlock
// victim.
func (g *waitForGraph) removeTransaction(tid int64) {
	delete(g.edges, tid)
	for _, set := range g.edges {
		delete(set, tid)
	}
}
