package nametree

// Tree is a set keyed by domain name, built as a red-black tree of red-black
// subtrees: one red-black tree per label level, linked through each node's
// down edge. It supports exact lookup, longest-proper-suffix ("partial")
// lookup, insertion with automatic fission of existing nodes, and deletion
// with automatic pruning of now-useless non-terminal ancestors.
//
// Nodes live in an arena (nodes[1:]); index 0 is the null sentinel. This
// avoids the raw aliasing parent/left/right/down pointers the design this
// package is modelled on used, per the re-architecture note that every
// "pointer" becomes a dense index, and null becomes a reserved sentinel.
type Tree[V any] struct {
	nodes []node[V] // nodes[0] is unused; arena starts at 1
	root  idx
	size  int
}

type idx uint32

const nilIdx idx = 0

type color uint8

const (
	red color = iota
	black
)

type node[V any] struct {
	name                       Name
	left, right, parent, down  idx
	clr                        color
	subtreeRoot                bool
	callback                   bool
	hasValue                   bool
	value                      V
	free                       bool
}

// New returns an empty Tree.
func New[V any]() *Tree[V] {
	return &Tree[V]{nodes: make([]node[V], 1)}
}

// Len returns the number of named nodes carrying a value (non-terminal
// placeholder nodes created by fission are not counted).
func (t *Tree[V]) Len() int { return t.size }

func (t *Tree[V]) alloc(n node[V]) idx {
	// reuse a freed slot if one exists, to bound arena growth across
	// long-running insert/delete churn.
	for i := 1; i < len(t.nodes); i++ {
		if t.nodes[i].free {
			n.free = false
			t.nodes[i] = n
			return idx(i)
		}
	}
	t.nodes = append(t.nodes, n)
	return idx(len(t.nodes) - 1)
}

func (t *Tree[V]) at(i idx) *node[V] {
	if i == nilIdx {
		return nil
	}
	return &t.nodes[i]
}

func (t *Tree[V]) colorOf(i idx) color {
	if i == nilIdx {
		return black
	}
	return t.nodes[i].clr
}

func (t *Tree[V]) isSubtreeRoot(i idx) bool {
	return i != nilIdx && t.nodes[i].subtreeRoot
}

// AbsoluteName reconstructs the full domain name of node i by concatenating
// the relative fragment stored at i with those of every ancestor level.
func (t *Tree[V]) AbsoluteName(i idx) Name {
	name := Name{}
	for cur := i; cur != nilIdx; {
		n := t.at(cur)
		name = concat(name, n.name)
		top := t.subtreeRootOf(cur)
		cur = t.at(top).parent
	}
	return name
}

// subtreeRootOf walks up within a single level to the level's topmost node.
func (t *Tree[V]) subtreeRootOf(i idx) idx {
	cur := i
	for !t.nodes[cur].subtreeRoot {
		cur = t.nodes[cur].parent
	}
	return cur
}

// levelRootSlot returns a pointer to the slot that holds the root of the RB tree
// that node "levelMember" belongs to: either &t.root (top level) or
// &t.nodes[upperNode].down (a deeper level).
func (t *Tree[V]) levelRootSlot(levelMember idx) *idx {
	top := t.subtreeRootOf(levelMember)
	upper := t.nodes[top].parent
	if upper == nilIdx {
		return &t.root
	}
	return &t.nodes[upper].down
}

func (t *Tree[V]) leftOf(i idx) idx {
	if i == nilIdx {
		return nilIdx
	}
	return t.nodes[i].left
}
func (t *Tree[V]) rightOf(i idx) idx {
	if i == nilIdx {
		return nilIdx
	}
	return t.nodes[i].right
}
func (t *Tree[V]) parentOf(i idx) idx {
	if i == nilIdx {
		return nilIdx
	}
	return t.nodes[i].parent
}

func (t *Tree[V]) leftRotate(root *idx, n idx) {
	r := t.nodes[n].right
	rl := t.nodes[r].left
	t.nodes[n].right = rl
	if rl != nilIdx {
		t.nodes[rl].parent = n
	}

	p := t.nodes[n].parent
	t.nodes[r].parent = p
	if !t.nodes[n].subtreeRoot {
		t.nodes[r].subtreeRoot = false
		if n == t.nodes[p].left {
			t.nodes[p].left = r
		} else {
			t.nodes[p].right = r
		}
	} else {
		t.nodes[r].subtreeRoot = true
		*root = r
	}
	t.nodes[r].left = n
	t.nodes[n].parent = r
	t.nodes[n].subtreeRoot = false
}

func (t *Tree[V]) rightRotate(root *idx, n idx) {
	l := t.nodes[n].left
	lr := t.nodes[l].right
	t.nodes[n].left = lr
	if lr != nilIdx {
		t.nodes[lr].parent = n
	}

	p := t.nodes[n].parent
	t.nodes[l].parent = p
	if !t.nodes[n].subtreeRoot {
		t.nodes[l].subtreeRoot = false
		if n == t.nodes[p].right {
			t.nodes[p].right = l
		} else {
			t.nodes[p].left = l
		}
	} else {
		t.nodes[l].subtreeRoot = true
		*root = l
	}
	t.nodes[l].right = n
	t.nodes[n].parent = l
	t.nodes[n].subtreeRoot = false
}

func (t *Tree[V]) insertFixup(root *idx, n idx) {
	for n != *root && t.colorOf(t.nodes[n].parent) == red {
		p := t.nodes[n].parent
		gp := t.nodes[p].parent
		var uncle idx
		if p == t.nodes[gp].left {
			uncle = t.nodes[gp].right
		} else {
			uncle = t.nodes[gp].left
		}

		if uncle != nilIdx && t.colorOf(uncle) == red {
			t.nodes[p].clr = black
			t.nodes[uncle].clr = black
			t.nodes[gp].clr = red
			n = gp
			continue
		}

		if n == t.nodes[p].right && p == t.nodes[gp].left {
			n = p
			t.leftRotate(root, n)
			p = t.nodes[n].parent
		} else if n == t.nodes[p].left && p == t.nodes[gp].right {
			n = p
			t.rightRotate(root, n)
			p = t.nodes[n].parent
		}
		gp = t.nodes[p].parent
		t.nodes[p].clr = black
		t.nodes[gp].clr = red
		if n == t.nodes[p].left {
			t.rightRotate(root, gp)
		} else {
			t.leftRotate(root, gp)
		}
		break
	}
	t.nodes[*root].clr = black
}

// Insert associates value v with name, creating empty non-terminal ancestors
// as needed. It returns the previous value and whether one existed.
func (t *Tree[V]) Insert(name Name, v V) (old V, hadOld bool) {
	var parent idx = nilIdx
	var up idx = nilIdx
	current := t.root
	order := -1
	target := name

	for current != nilIdx {
		cmp := compare(target, t.nodes[current].name)
		switch cmp.Relation {
		case Equal:
			old = t.nodes[current].value
			hadOld = t.nodes[current].hasValue
			if !hadOld {
				t.size++
			}
			t.nodes[current].value = v
			t.nodes[current].hasValue = true
			return old, hadOld

		case Disjoint:
			parent = current
			order = cmp.Order
			if order < 0 {
				current = t.nodes[current].left
			} else {
				current = t.nodes[current].right
			}

		case SubDomain:
			parent = nilIdx
			up = current
			target = target.stripRootward(cmp.CommonLabels)
			current = t.nodes[current].down

		default: // SuperDomain or CommonAncestor: fission current
			t.fission(current, cmp.CommonLabels)
			current = t.nodes[current].parent
		}
	}

	var rootSlot *idx
	if up != nilIdx {
		rootSlot = &t.nodes[up].down
	} else {
		rootSlot = &t.root
	}

	t.size++
	n := node[V]{name: target, left: nilIdx, right: nilIdx, down: nilIdx, value: v, hasValue: true, clr: red}
	newIdx := t.alloc(n)
	t.nodes[newIdx].parent = parent

	if parent == nilIdx {
		*rootSlot = newIdx
		t.nodes[newIdx].clr = black
		t.nodes[newIdx].subtreeRoot = true
		t.nodes[newIdx].parent = up
		return old, false
	}

	t.nodes[newIdx].subtreeRoot = false
	if order < 0 {
		t.nodes[parent].left = newIdx
	} else {
		t.nodes[parent].right = newIdx
	}
	t.insertFixup(rootSlot, newIdx)
	return old, false
}

// fission splits node cur into an upper node carrying the last common
// labels (value-less, becomes the new subtree root for this level) and a
// lower node retaining cur's original value, children and down-edge, now
// holding only the leaf-ward remainder of the name.
func (t *Tree[V]) fission(cur idx, common int) {
	oldName := t.nodes[cur].name
	upperName := oldName.suffix(common)
	lowerName := oldName.stripRootward(common)

	upIdx := t.alloc(node[V]{name: upperName, left: nilIdx, right: nilIdx, down: cur})

	p := t.nodes[cur].parent
	t.nodes[upIdx].parent = p
	if p != nilIdx {
		if t.nodes[p].left == cur {
			t.nodes[p].left = upIdx
		} else if t.nodes[p].right == cur {
			t.nodes[p].right = upIdx
		} else {
			t.nodes[p].down = upIdx
		}
	} else if t.root == cur {
		t.root = upIdx
	}

	t.nodes[upIdx].left = t.nodes[cur].left
	if t.nodes[cur].left != nilIdx {
		t.nodes[t.nodes[cur].left].parent = upIdx
	}
	t.nodes[upIdx].right = t.nodes[cur].right
	if t.nodes[cur].right != nilIdx {
		t.nodes[t.nodes[cur].right].parent = upIdx
	}

	t.nodes[cur].left = nilIdx
	t.nodes[cur].right = nilIdx
	t.nodes[cur].name = lowerName
	t.nodes[cur].parent = upIdx

	t.nodes[upIdx].clr = t.nodes[cur].clr
	t.nodes[cur].clr = black

	if t.nodes[cur].subtreeRoot {
		t.nodes[upIdx].subtreeRoot = true
	} else {
		t.nodes[upIdx].subtreeRoot = false
	}
	t.nodes[cur].subtreeRoot = true
}

// FindResultFlag reports the outcome of a Find.
type FindResultFlag int

const (
	NotFound FindResultFlag = iota
	Exact
	Partial
)

// FindResult is the outcome of Find/FindWithCallback: which node (if any)
// matched and how.
type FindResult[V any] struct {
	Flag  FindResultFlag
	node  idx
	tree  *Tree[V]
}

// Value returns the value stored at the matched node, if any.
func (r FindResult[V]) Value() (V, bool) {
	if r.node == nilIdx {
		var zero V
		return zero, false
	}
	n := r.tree.nodes[r.node]
	return n.value, n.hasValue
}

// Name returns the absolute name of the matched node.
func (r FindResult[V]) Name() Name {
	if r.node == nilIdx {
		return Name{}
	}
	return r.tree.AbsoluteName(r.node)
}

// Find walks the tree looking for name. Exact means some node's absolute
// name equals name exactly. Partial means no node equals name, but some
// proper-suffix node (a node whose absolute name is an ancestor of name) was
// matched along the way — the deepest such node is returned.
func (t *Tree[V]) Find(name Name) FindResult[V] {
	return t.find(name, nil)
}

// Callback is invoked by FindWithCallback whenever traversal crosses into a
// deeper level through a node that carries the callback bit.
type Callback[V any] func(n FindResult[V], absoluteSoFar Name) (stop bool)

// FindWithCallback behaves like Find, but invokes cb at each level crossing
// through a node with the callback bit set; if cb returns true, the search
// stops early and reports Partial at the node that triggered it.
func (t *Tree[V]) FindWithCallback(name Name, cb Callback[V]) FindResult[V] {
	return t.find(name, cb)
}

func (t *Tree[V]) find(name Name, cb Callback[V]) FindResult[V] {
	target := name
	current := t.root
	result := FindResult[V]{Flag: NotFound, tree: t}

	for current != nilIdx {
		cmp := compare(target, t.nodes[current].name)
		switch cmp.Relation {
		case Equal:
			result.Flag = Exact
			result.node = current
			return result
		case Disjoint:
			if cmp.Order < 0 {
				current = t.nodes[current].left
			} else {
				current = t.nodes[current].right
			}
		case SubDomain:
			result.Flag = Partial
			result.node = current
			if cb != nil && t.nodes[current].callback {
				if cb(result, t.AbsoluteName(current)) {
					return result
				}
			}
			target = target.stripRootward(cmp.CommonLabels)
			current = t.nodes[current].down
		default: // SuperDomain or CommonAncestor: no node can match
			return result
		}
	}
	return result
}

// SetCallback toggles the callback bit on the node most recently returned
// by Find/Insert (identified by its absolute name), used by the
// authoritative store to mark zone cuts.
func (t *Tree[V]) SetCallback(name Name, enabled bool) bool {
	r := t.Find(name)
	if r.Flag != Exact {
		return false
	}
	t.nodes[r.node].callback = enabled
	return true
}

// Delete logically removes the value at name (if any), then physically
// prunes the node and any now-empty non-terminal ancestors.
func (t *Tree[V]) Delete(name Name) bool {
	r := t.Find(name)
	if r.Flag != Exact {
		return false
	}
	n := r.node
	if !t.nodes[n].hasValue {
		return false
	}
	var zero V
	t.nodes[n].value = zero
	t.nodes[n].hasValue = false
	t.size--
	t.prune(n)
	return true
}

// prune removes node n physically if it has become a useless non-terminal
// (no value and no down subtree), walking up through now-empty ancestors
// and across level boundaries via the subtree-root's parent link.
func (t *Tree[V]) prune(n idx) {
	for n != nilIdx {
		nd := t.nodes[n]
		if nd.hasValue || nd.down != nilIdx {
			return
		}
		parentLevel := nd.parent
		rootSlot := t.levelRootSlot(n)
		t.rbDelete(rootSlot, n)

		if parentLevel == nilIdx {
			return
		}
		// parentLevel might itself become useless once its down edge
		// is gone, but only if it was a fission-created placeholder
		// whose down was exactly the level we just emptied.
		if t.nodes[parentLevel].down == nilIdx {
			n = parentLevel
			continue
		}
		return
	}
}

// rbDelete removes node z from the level rooted at *root using the
// standard red-black deletion algorithm, treating the level's own subtree
// root as a virtual root: recolouring and rotations never cross into an
// ancestor level.
func (t *Tree[V]) rbDelete(root *idx, z idx) {
	y := z
	yOrigColor := t.colorOf(y)
	var x, xParent idx

	switch {
	case t.nodes[z].left == nilIdx:
		x = t.nodes[z].right
		xParent = t.nodes[z].parent
		t.transplant(root, z, x)
	case t.nodes[z].right == nilIdx:
		x = t.nodes[z].left
		xParent = t.nodes[z].parent
		t.transplant(root, z, x)
	default:
		y = t.minimum(t.nodes[z].right)
		yOrigColor = t.colorOf(y)
		x = t.nodes[y].right
		if t.nodes[y].parent == z {
			xParent = y
		} else {
			xParent = t.nodes[y].parent
			t.transplant(root, y, t.nodes[y].right)
			t.nodes[y].right = t.nodes[z].right
			t.nodes[t.nodes[y].right].parent = y
		}
		t.transplant(root, z, y)
		t.nodes[y].left = t.nodes[z].left
		t.nodes[t.nodes[y].left].parent = y
		t.nodes[y].clr = t.nodes[z].clr
		t.nodes[y].subtreeRoot = t.nodes[z].subtreeRoot
		if t.nodes[y].subtreeRoot {
			*root = y
		}
	}

	t.freeNode(z)

	if yOrigColor == black {
		t.deleteFixup(root, x, xParent)
	}
}

func (t *Tree[V]) freeNode(z idx) {
	var zeroV V
	t.nodes[z] = node[V]{value: zeroV, free: true}
}

func (t *Tree[V]) minimum(n idx) idx {
	for t.nodes[n].left != nilIdx {
		n = t.nodes[n].left
	}
	return n
}

// transplant replaces the subtree rooted at u with the subtree rooted at v,
// respecting level boundaries: u may be this level's subtree root, in which
// case v (possibly nil) becomes the new subtree root and *root is updated.
func (t *Tree[V]) transplant(root *idx, u, v idx) {
	if t.nodes[u].subtreeRoot {
		*root = v
		if v != nilIdx {
			t.nodes[v].subtreeRoot = true
			t.nodes[v].parent = t.nodes[u].parent
		}
		return
	}

	p := t.nodes[u].parent
	if u == t.nodes[p].left {
		t.nodes[p].left = v
	} else {
		t.nodes[p].right = v
	}
	if v != nilIdx {
		t.nodes[v].parent = p
	}
}

func (t *Tree[V]) deleteFixup(root *idx, x, xParent idx) {
	for x != *root && t.colorOf(x) == black {
		if xParent == nilIdx {
			break
		}
		if x == t.nodes[xParent].left {
			w := t.nodes[xParent].right
			if t.colorOf(w) == red {
				t.nodes[w].clr = black
				t.nodes[xParent].clr = red
				t.leftRotate(root, xParent)
				w = t.nodes[xParent].right
			}
			if w == nilIdx {
				x = xParent
				xParent = t.nodes[x].parent
				continue
			}
			if t.colorOf(t.nodes[w].left) == black && t.colorOf(t.nodes[w].right) == black {
				t.nodes[w].clr = red
				x = xParent
				xParent = t.nodes[x].parent
			} else {
				if t.colorOf(t.nodes[w].right) == black {
					if t.nodes[w].left != nilIdx {
						t.nodes[t.nodes[w].left].clr = black
					}
					t.nodes[w].clr = red
					t.rightRotate(root, w)
					w = t.nodes[xParent].right
				}
				t.nodes[w].clr = t.colorOf(xParent)
				t.nodes[xParent].clr = black
				if t.nodes[w].right != nilIdx {
					t.nodes[t.nodes[w].right].clr = black
				}
				t.leftRotate(root, xParent)
				x = *root
				xParent = nilIdx
			}
		} else {
			w := t.nodes[xParent].left
			if t.colorOf(w) == red {
				t.nodes[w].clr = black
				t.nodes[xParent].clr = red
				t.rightRotate(root, xParent)
				w = t.nodes[xParent].left
			}
			if w == nilIdx {
				x = xParent
				xParent = t.nodes[x].parent
				continue
			}
			if t.colorOf(t.nodes[w].right) == black && t.colorOf(t.nodes[w].left) == black {
				t.nodes[w].clr = red
				x = xParent
				xParent = t.nodes[x].parent
			} else {
				if t.colorOf(t.nodes[w].left) == black {
					if t.nodes[w].right != nilIdx {
						t.nodes[t.nodes[w].right].clr = black
					}
					t.nodes[w].clr = red
					t.leftRotate(root, w)
					w = t.nodes[xParent].left
				}
				t.nodes[w].clr = t.colorOf(xParent)
				t.nodes[xParent].clr = black
				if t.nodes[w].left != nilIdx {
					t.nodes[t.nodes[w].left].clr = black
				}
				t.rightRotate(root, xParent)
				x = *root
				xParent = nilIdx
			}
		}
	}
	if x != nilIdx {
		t.nodes[x].clr = black
	}
}
