package models

// TreeNode is one node of an assembled family tree.
// Expanded nodes carry the full Person; un-expanded references only carry Ref.
type TreeNode struct {
	Ref      PersonRef   `json:"ref"`
	Person   *Person     `json:"person,omitempty"`
	Parents  []*TreeNode `json:"parents,omitempty"`
	Spouse   *TreeNode   `json:"spouse,omitempty"`
	Children []*TreeNode `json:"children,omitempty"`
}

// Expanded reports whether the node carries the person's own fields and relations.
func (n *TreeNode) Expanded() bool {
	return n != nil && n.Person != nil
}
