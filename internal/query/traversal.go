package query

import "sort"

// defaultMaxDepth is spec §4.5's default traversal depth bound.
const defaultMaxDepth = 1000

// TraversalOptions configures BFS/DFS/ShortestPath/Component.
type TraversalOptions struct {
	Direction   Direction
	LabelFilter LabelFilter
	// MaxDepth <= 0 uses defaultMaxDepth.
	MaxDepth int
}

func (o TraversalOptions) maxDepth() int {
	if o.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return o.MaxDepth
}

// sortEdges orders edges incident to node by (neighbor id, label), where the
// neighbor is whichever endpoint is not node.
func sortEdges(node string, edges []Edge) {
	other := func(e Edge) string {
		if e.To == node {
			return e.From
		}
		return e.To
	}
	sort.Slice(edges, func(i, j int) bool {
		oi, oj := other(edges[i]), other(edges[j])
		if oi != oj {
			return oi < oj
		}
		return edges[i].Label < edges[j].Label
	})
}

// BFS visits nodes breadth-first from start, calling visit(node, depth) for
// each, starting with depth 0 for start itself. Traversal stops expanding
// once maxDepth is reached.
func (l *Layer) BFS(start string, opts TraversalOptions, visit func(node string, depth int)) error {
	visited := map[string]struct{}{start: {}}
	queue := []struct {
		node  string
		depth int
	}{{start, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visit(cur.node, cur.depth)
		if cur.depth >= opts.maxDepth() {
			continue
		}
		neighbors, err := l.Neighbors(cur.node, opts.Direction, opts.LabelFilter)
		if err != nil {
			return err
		}
		for _, n := range neighbors {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, struct {
				node  string
				depth int
			}{n, cur.depth + 1})
		}
	}
	return nil
}

// DFS visits nodes in pre-order from start, calling visit(node, depth) for
// each.
func (l *Layer) DFS(start string, opts TraversalOptions, visit func(node string, depth int)) error {
	visited := map[string]struct{}{}
	var walk func(node string, depth int) error
	walk = func(node string, depth int) error {
		if _, ok := visited[node]; ok {
			return nil
		}
		visited[node] = struct{}{}
		visit(node, depth)
		if depth >= opts.maxDepth() {
			return nil
		}
		neighbors, err := l.Neighbors(node, opts.Direction, opts.LabelFilter)
		if err != nil {
			return err
		}
		for _, n := range neighbors {
			if err := walk(n, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(start, 0)
}

// ShortestPath returns the shortest node-id path from start to goal (BFS),
// or (nil, false) if goal is unreachable within opts.maxDepth().
func (l *Layer) ShortestPath(start, goal string, opts TraversalOptions) ([]string, bool, error) {
	if start == goal {
		return []string{start}, true, nil
	}
	parent := map[string]string{start: ""}

	visited := map[string]struct{}{start: {}}
	queue := []string{start}
	depth := map[string]int{start: 0}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == goal {
			path := []string{goal}
			for path[len(path)-1] != start {
				path = append(path, parent[path[len(path)-1]])
			}
			reverse(path)
			return path, true, nil
		}
		if depth[cur] >= opts.maxDepth() {
			continue
		}
		neighbors, err := l.Neighbors(cur, opts.Direction, opts.LabelFilter)
		if err != nil {
			return nil, false, err
		}
		for _, n := range neighbors {
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			parent[n] = cur
			depth[n] = depth[cur] + 1
			queue = append(queue, n)
		}
	}
	return nil, false, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Component returns every node reachable from start treating edges as
// undirected (spec §4.5: connected component).
func (l *Layer) Component(start string, labelFilter LabelFilter) ([]string, error) {
	opts := TraversalOptions{Direction: DirBoth, LabelFilter: labelFilter, MaxDepth: defaultMaxDepth}
	var out []string
	err := l.BFS(start, opts, func(node string, _ int) {
		out = append(out, node)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
