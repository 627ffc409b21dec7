package graph

import (
	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// LayoutOptions sizes the tree layout.
//   - NodeWidth: horizontal footprint of one node (W).
//   - SiblingSpacing: gap between adjacent subtrees (S).
//   - LevelSpacing: vertical distance between depth levels (L).
//   - Margin: left padding applied when the layout has to be shifted right.
type LayoutOptions struct {
	NodeWidth      float64
	SiblingSpacing float64
	LevelSpacing   float64
	Margin         float64
}

// DefaultLayoutOptions returns the standard node footprint and spacing.
func DefaultLayoutOptions() LayoutOptions {
	return LayoutOptions{
		NodeWidth:      250,
		SiblingSpacing: 100,
		LevelSpacing:   300,
		Margin:         50,
	}
}

func (o LayoutOptions) withDefaults() LayoutOptions {
	def := DefaultLayoutOptions()
	if o.NodeWidth <= 0 {
		o.NodeWidth = def.NodeWidth
	}
	if o.SiblingSpacing < 0 {
		o.SiblingSpacing = def.SiblingSpacing
	}
	if o.LevelSpacing <= 0 {
		o.LevelSpacing = def.LevelSpacing
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	return o
}

// Layout assigns positions to every node of g in place. Roots (nodes without a
// parent edge) are laid out left to right and centered on x=0, each parent
// is centered over its children, and the result is shifted right when any x
// would be negative. Identical input yields identical coordinates.
func Layout(g *crawler.Graph, opts LayoutOptions) {
	if g == nil || len(g.Nodes) == 0 {
		return
	}
	t := newTree(g, opts.withDefaults())

	var roots []int
	for i := range g.Nodes {
		if t.parent[i] < 0 {
			roots = append(roots, i)
		}
	}

	left := -t.rowWidth(roots) / 2
	for _, r := range roots {
		w := t.requiredWidth(r)
		t.place(r, left+w/2, 0)
		left += w + t.opts.SiblingSpacing
	}
	t.placeStragglers()
	t.normalize()

	for i := range g.Nodes {
		g.Nodes[i].Position = t.pos[i]
	}
}

// tree is an arena over g.Nodes; every slice is indexed by node position.
type tree struct {
	opts     LayoutOptions
	parent   []int
	children [][]int
	width    []float64
	placed   []bool
	pos      []crawler.Position
	maxLevel int
}

func newTree(g *crawler.Graph, opts LayoutOptions) *tree {
	n := len(g.Nodes)
	t := &tree{
		opts:     opts,
		parent:   make([]int, n),
		children: make([][]int, n),
		width:    make([]float64, n),
		placed:   make([]bool, n),
		pos:      make([]crawler.Position, n),
	}
	index := make(map[string]int, n)
	for i, node := range g.Nodes {
		index[node.ID] = i
		t.parent[i] = -1
	}
	for _, e := range g.Edges {
		src, okSrc := index[e.Source]
		dst, okDst := index[e.Target]
		if !okSrc || !okDst || src == dst || t.parent[dst] >= 0 {
			continue
		}
		t.parent[dst] = src
		t.children[src] = append(t.children[src], dst)
	}
	return t
}

// requiredWidth is memoized; a zero entry means "not computed yet" since every
// real width is at least NodeWidth.
func (t *tree) requiredWidth(i int) float64 {
	if t.width[i] > 0 {
		return t.width[i]
	}
	w := t.opts.NodeWidth
	t.width[i] = w // provisional, stops parent cycles from recursing forever
	if kids := t.children[i]; len(kids) > 0 {
		if sum := t.rowWidth(kids); sum > w {
			w = sum
		}
	}
	t.width[i] = w
	return w
}

// rowWidth is the span of nodes laid side by side with sibling spacing.
func (t *tree) rowWidth(nodes []int) float64 {
	if len(nodes) == 0 {
		return 0
	}
	total := float64(len(nodes)-1) * t.opts.SiblingSpacing
	for _, n := range nodes {
		total += t.requiredWidth(n)
	}
	return total
}

func (t *tree) place(i int, centerX float64, level int) {
	if t.placed[i] {
		return
	}
	t.placed[i] = true
	t.pos[i] = crawler.Position{X: centerX, Y: float64(level) * t.opts.LevelSpacing}
	if level > t.maxLevel {
		t.maxLevel = level
	}
	kids := t.children[i]
	if len(kids) == 0 {
		return
	}
	left := centerX - t.rowWidth(kids)/2
	for _, c := range kids {
		w := t.requiredWidth(c)
		t.place(c, left+w/2, level+1)
		left += w + t.opts.SiblingSpacing
	}
}

// placeStragglers puts nodes unreachable from any root (members of a parent
// cycle) on one trailing row to the right of everything else.
func (t *tree) placeStragglers() {
	right := 0.0
	found := false
	for i := range t.pos {
		if !t.placed[i] {
			continue
		}
		if edge := t.pos[i].X + t.opts.NodeWidth/2; !found || edge > right {
			right = edge
			found = true
		}
	}
	x := t.opts.NodeWidth / 2
	y := 0.0
	if found {
		x = right + t.opts.SiblingSpacing + t.opts.NodeWidth/2
		y = float64(t.maxLevel+1) * t.opts.LevelSpacing
	}
	for i := range t.pos {
		if t.placed[i] {
			continue
		}
		t.placed[i] = true
		t.pos[i] = crawler.Position{X: x, Y: y}
		x += t.opts.NodeWidth + t.opts.SiblingSpacing
	}
}

func (t *tree) normalize() {
	minX := t.pos[0].X
	for _, p := range t.pos[1:] {
		if p.X < minX {
			minX = p.X
		}
	}
	if minX >= 0 {
		return
	}
	shift := t.opts.Margin - minX
	for i := range t.pos {
		t.pos[i].X += shift
	}
}
