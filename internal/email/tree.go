package email

import (
	"strings"

	"github.com/emersion/go-imap"

	"github.com/brandon/imap-gateway/pkg/types"
)

// nonExistentAttr marks a hierarchy placeholder (RFC 5258). It implies
// \Noselect.
const nonExistentAttr = "\\NonExistent"

// MailboxNode is one level of the server's mailbox hierarchy.
type MailboxNode struct {
	Name       string
	Delimiter  string
	Attributes []string
	Children   []*MailboxNode
}

// Selectable reports whether the mailbox can be opened.
func (n *MailboxNode) Selectable() bool {
	for _, attr := range n.Attributes {
		if strings.EqualFold(attr, imap.NoSelectAttr) || strings.EqualFold(attr, nonExistentAttr) {
			return false
		}
	}
	return true
}

// BuildTree rebuilds the nested hierarchy from flat LIST responses. Roots
// and children keep the order in which the server listed them. Levels the
// server implied but did not list are added as \Noselect placeholders.
func BuildTree(infos []*imap.MailboxInfo) []*MailboxNode {
	var roots []*MailboxNode
	index := make(map[string]*MailboxNode)

	for _, info := range infos {
		segments := []string{info.Name}
		if info.Delimiter != "" {
			segments = strings.Split(info.Name, info.Delimiter)
		}

		siblings := &roots
		var key string
		var node *MailboxNode
		for i, segment := range segments {
			if i > 0 {
				key += info.Delimiter
			}
			key += segment

			node = index[key]
			if node == nil {
				node = &MailboxNode{
					Name:       segment,
					Delimiter:  info.Delimiter,
					Attributes: []string{imap.NoSelectAttr},
				}
				index[key] = node
				*siblings = append(*siblings, node)
			}
			siblings = &node.Children
		}

		node.Delimiter = info.Delimiter
		node.Attributes = append([]string{}, info.Attributes...)
	}

	return roots
}

// Flatten walks the tree depth-first, parents before children. A
// non-selectable node is left out but its children are still walked, and
// its name and delimiter still prefix their paths.
func Flatten(nodes []*MailboxNode) []types.Mailbox {
	out := []types.Mailbox{}
	flatten(nodes, "", &out)
	return out
}

func flatten(nodes []*MailboxNode, prefix string, out *[]types.Mailbox) {
	for _, node := range nodes {
		path := prefix + node.Name
		if node.Selectable() {
			*out = append(*out, types.Mailbox{
				Name:       node.Name,
				Path:       path,
				Delimiter:  node.Delimiter,
				Attributes: append([]string{}, node.Attributes...),
			})
		}
		if len(node.Children) > 0 {
			flatten(node.Children, path+node.Delimiter, out)
		}
	}
}
