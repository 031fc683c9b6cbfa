// Package tree builds bounded-depth family views rooted at one person.
package tree

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/camden-git/familytree/metrics"
	"github.com/camden-git/familytree/models"
	"github.com/camden-git/familytree/repository"
)

// DefaultMaxDepth caps requested depths when no limit is configured.
const DefaultMaxDepth = 6

// Loader is the read side of the person store the assembler needs.
type Loader interface {
	GetMany(ctx context.Context, ids []string, opts repository.QueryOptions) (map[string]models.Person, error)
}

// Assembler reads active people only; inactive peers are left out of every view.
type Assembler struct {
	loader   Loader
	maxDepth int
}

// NewAssembler creates an assembler that never expands more than maxDepth generations.
func NewAssembler(loader Loader, maxDepth int) *Assembler {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Assembler{loader: loader, maxDepth: maxDepth}
}

// MaxDepth returns the configured depth cap.
func (a *Assembler) MaxDepth() int {
	return a.maxDepth
}

// Assemble returns the tree rooted at rootID. A depth of 1 holds the root and
// references to its relatives. Deeper trees expand parents with depth-1 while
// the spouse and children are expanded with depth 1, so assembly terminates on
// any graph. Depth <= 0 returns nil.
func (a *Assembler) Assemble(ctx context.Context, rootID string, depth int) (*models.TreeNode, error) {
	if depth <= 0 {
		return nil, nil
	}
	if depth > a.maxDepth {
		depth = a.maxDepth
	}
	timer := prometheus.NewTimer(metrics.TreeAssemblyDuration.WithLabelValues(strconv.Itoa(depth)))
	defer timer.ObserveDuration()

	root, err := a.root(ctx, rootID)
	if err != nil {
		return nil, err
	}
	return a.build(ctx, root, depth)
}

// ImmediateFamily returns the active parents, spouse and children of id.
func (a *Assembler) ImmediateFamily(ctx context.Context, id string) (*models.ImmediateFamily, error) {
	p, err := a.root(ctx, id)
	if err != nil {
		return nil, err
	}
	peers, err := a.loader.GetMany(ctx, p.RelatedIDs(), repository.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to load family of %s: %w", id, err)
	}

	family := &models.ImmediateFamily{
		Parents:  pick(peers, p.Parents),
		Children: pick(peers, p.Children),
	}
	if spouse, ok := peers[p.Spouse()]; ok {
		family.Spouse = &spouse
	}
	return family, nil
}

func (a *Assembler) root(ctx context.Context, id string) (models.Person, error) {
	found, err := a.loader.GetMany(ctx, []string{id}, repository.ActiveOnly)
	if err != nil {
		return models.Person{}, fmt.Errorf("failed to load person %s: %w", id, err)
	}
	p, ok := found[id]
	if !ok {
		return models.Person{}, &repository.NotFoundError{Kind: "person", ID: id}
	}
	return p, nil
}

func (a *Assembler) build(ctx context.Context, p models.Person, depth int) (*models.TreeNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node := &models.TreeNode{Ref: p.Ref(), Person: &p}

	peers, err := a.loader.GetMany(ctx, p.RelatedIDs(), repository.ActiveOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to load relatives of %s: %w", p.ID, err)
	}

	expand := func(rel models.Person, d int) (*models.TreeNode, error) {
		if depth == 1 {
			return &models.TreeNode{Ref: rel.Ref()}, nil
		}
		return a.build(ctx, rel, d)
	}

	for _, parent := range pick(peers, p.Parents) {
		n, err := expand(parent, depth-1)
		if err != nil {
			return nil, err
		}
		node.Parents = append(node.Parents, n)
	}
	if spouse, ok := peers[p.Spouse()]; ok {
		if node.Spouse, err = expand(spouse, 1); err != nil {
			return nil, err
		}
	}
	for _, child := range pick(peers, p.Children) {
		n, err := expand(child, 1)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, n)
	}
	return node, nil
}

// pick returns the people of ids present in found, keeping the order of ids.
func pick(found map[string]models.Person, ids []string) []models.Person {
	out := make([]models.Person, 0, len(ids))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
