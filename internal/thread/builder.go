// Package thread nests a flat list of article comments into reply trees.
package thread

import (
	"sort"

	"clinchem/api/internal/store"
)

const DefaultMaxDepth = 5

// RemovedContent stands in for a spam comment that is kept only because it
// still has visible replies.
const RemovedContent = "[removed by moderator]"

type Sort string

const (
	SortNewest Sort = "newest"
	SortOldest Sort = "oldest"
	SortTop    Sort = "top"
)

// ParseSort maps a query value to a Sort. Unknown or empty values fall back
// to newest.
func ParseSort(value string) Sort {
	switch Sort(value) {
	case SortOldest, SortTop:
		return Sort(value)
	default:
		return SortNewest
	}
}

type Options struct {
	MaxDepth int
	Sort     Sort
	CallerID string
}

type Node struct {
	Comment     store.Comment
	Content     string
	Depth       int
	Score       int
	CallerVote  string
	Placeholder bool
	Children    []*Node
}

func (n *Node) ChildCount() int {
	return len(n.Children)
}

// Build returns the root nodes for comments. Nodes at depth MaxDepth or below
// are dropped, as are comments whose parent is not in the list. Deleted and
// spam comments appear only when they still carry rendered replies, and then
// with placeholder content.
func Build(comments []store.Comment, opts Options) []*Node {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	children := make(map[string][]store.Comment, len(comments))
	roots := make([]store.Comment, 0)
	for _, comment := range comments {
		if comment.IsRoot() {
			roots = append(roots, comment)
			continue
		}
		children[*comment.ParentID] = append(children[*comment.ParentID], comment)
	}
	b := builder{children: children, opts: opts}
	return b.level(roots, 0)
}

type builder struct {
	children map[string][]store.Comment
	opts     Options
}

func (b builder) level(comments []store.Comment, depth int) []*Node {
	if depth >= b.opts.MaxDepth {
		return nil
	}
	nodes := make([]*Node, 0, len(comments))
	for _, comment := range comments {
		if node := b.node(comment, depth); node != nil {
			nodes = append(nodes, node)
		}
	}
	sortNodes(nodes, b.opts.Sort)
	return nodes
}

func (b builder) node(comment store.Comment, depth int) *Node {
	node := &Node{
		Comment:    comment,
		Content:    comment.Content,
		Depth:      depth,
		Score:      comment.Score(),
		CallerVote: comment.VoteOf(b.opts.CallerID),
		Children:   b.level(b.children[comment.ID], depth+1),
	}
	switch comment.Status {
	case store.StatusDeleted, store.StatusSpam:
		if len(node.Children) == 0 {
			return nil
		}
		node.Placeholder = true
		node.Content = store.DeletedContent
		if comment.Status == store.StatusSpam {
			node.Content = RemovedContent
		}
	}
	return node
}

func sortNodes(nodes []*Node, order Sort) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Comment, nodes[j].Comment
		switch order {
		case SortOldest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		case SortTop:
			if nodes[i].Score != nodes[j].Score {
				return nodes[i].Score > nodes[j].Score
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// Walk visits every node depth first, parents before children.
func Walk(nodes []*Node, visit func(*Node)) {
	stack := make([]*Node, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(node)
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
}
