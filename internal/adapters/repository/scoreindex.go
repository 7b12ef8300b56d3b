package repository

import "math/rand/v2"

// scoreIndex is a treap ordering lead ids by score DESC, then id ASC.
// "less" means ranks earlier, so an in-order traversal yields leads from
// best to worst. Callers provide synchronization.
type scoreIndex struct {
	root   *node
	scores map[string]int64
}

type node struct {
	id    string
	score int64
	prio  uint64
	left  *node
	right *node
	size  int
}

func newScoreIndex() *scoreIndex {
	return &scoreIndex{scores: make(map[string]int64)}
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID).
func less(aScore int64, aID string, bScore int64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score int64, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// set inserts id or moves it to its new score.
func (x *scoreIndex) set(id string, score int64) {
	if old, ok := x.scores[id]; ok {
		if old == score {
			return
		}
		x.root = deleteNode(x.root, id, old)
	}
	x.scores[id] = score
	x.root = insert(x.root, id, score, rand.Uint64())
}

func (x *scoreIndex) len() int {
	return nsize(x.root)
}

// top returns up to limit ids in rank order. limit <= 0 returns all.
func (x *scoreIndex) top(limit int) []string {
	if limit <= 0 || limit > x.len() {
		limit = x.len()
	}
	out := make([]string, 0, limit)
	collectTop(x.root, limit, &out)
	return out
}

func collectTop(n *node, limit int, out *[]string) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTop(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.id)
	}
	if len(*out) < limit {
		collectTop(n.right, limit, out)
	}
}
