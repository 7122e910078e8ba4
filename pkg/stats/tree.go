// Package stats holds the pure statistics algorithms: tree assembly, bucket
// folding, validation classification and scoring. Nothing here performs I/O.
package stats

import (
	"github.com/google/uuid"

	"github.com/openeduhub/metaqs/pkg/models"
)

// BuildTree assembles the children of rootID from a flat list of nodes in a
// single pass. Input order is display order; children keep it.
//
// A node whose parent has not been seen yet is not attached, but it still
// registers itself so later nodes can attach to it. Entries for rootID itself
// are ignored.
func BuildTree(nodes []models.TreeInput, rootID uuid.UUID) []*models.PortalTreeNode {
	root := &models.PortalTreeNode{NodeRefID: rootID, Children: []*models.PortalTreeNode{}}
	slots := map[uuid.UUID]*models.PortalTreeNode{rootID: root}

	for _, n := range nodes {
		if n.ID == rootID {
			continue
		}

		node := &models.PortalTreeNode{
			NodeRefID: n.ID,
			Title:     n.Title,
			Children:  []*models.PortalTreeNode{},
		}

		if n.HasParent {
			if parent, ok := slots[n.ParentID]; ok {
				parent.Children = append(parent.Children, node)
			}
		}

		slots[n.ID] = node
	}

	return root.Children
}

// CountTree returns the number of nodes in a forest.
func CountTree(nodes []*models.PortalTreeNode) int {
	count := 0
	for _, n := range nodes {
		count += 1 + CountTree(n.Children)
	}
	return count
}
