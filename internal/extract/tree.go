package extract

import "github.com/dvloznov/finance-analyst/internal/domain"

// treeNode is the shape both report formats are adapted to.
type treeNode interface {
	label() string
	// declaredType is the account type the node declares for itself and its
	// subtree, if any.
	declaredType() (domain.AccountType, bool)
	children() []treeNode
}

// scope is what a node inherits from its ancestors.
type scope struct {
	parent      string
	accountType domain.AccountType
}

// walk visits the tree depth-first and calls leaf for every node without
// children. The nearest labelled container becomes the parent name and the
// nearest declared type wins.
func walk(n treeNode, sc scope, leaf func(treeNode, scope) error) error {
	if t, ok := n.declaredType(); ok {
		sc.accountType = t
	}

	kids := n.children()
	if len(kids) == 0 {
		return leaf(n, sc)
	}

	inner := sc
	if l := n.label(); l != "" {
		inner.parent = l
	}
	for _, child := range kids {
		if err := walk(child, inner, leaf); err != nil {
			return err
		}
	}
	return nil
}
