package at

import (
	"strconv"
	"strings"
)

// NodeKind identifies the variant held by a Node.
type NodeKind int

const (
	NodeNumber NodeKind = iota
	NodeRange
	NodeString
	NodeList
)

func (k NodeKind) String() string {
	switch k {
	case NodeNumber:
		return "number"
	case NodeRange:
		return "range"
	case NodeString:
		return "string"
	case NodeList:
		return "list"
	default:
		return "NodeKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Node is one item of a parenthesised list returned by Parser.ReadList.
// The zero value is the number 0.
type Node struct {
	kind  NodeKind
	first uint32
	last  uint32
	str   string
	list  []Node
}

func NewNumber(n uint32) Node { return Node{kind: NodeNumber, first: n, last: n} }
func NewRange(first, last uint32) Node { return Node{kind: NodeRange, first: first, last: last} }
func NewString(s string) Node { return Node{kind: NodeString, str: s} }
func NewList(items []Node) Node { return Node{kind: NodeList, list: items} }
func (n Node) Kind() NodeKind { return n.kind }
func (n Node) IsNumber() bool { return n.kind == NodeNumber }
func (n Node) IsRange() bool { return n.kind == NodeRange }
func (n Node) IsString() bool { return n.kind == NodeString }
func (n Node) IsList() bool { return n.kind == NodeList }
func (n Node) AsNumber() uint32 { return n.first }
func (n Node) AsFirst() uint32 { return n.first }
func (n Node) AsLast() uint32 { return n.last }
func (n Node) AsString() string { return n.str }
func (n Node) AsList() []Node { return n.list }

// String renders the node in AT list syntax.
func (n Node) String() string {
	switch n.kind {
	case NodeRange:
		return strconv.FormatUint(uint64(n.first), 10) + "-" + strconv.FormatUint(uint64(n.last), 10)
	case NodeString:
		return Quote(n.str)
	case NodeList:
		parts := make([]string, len(n.list))
		for i, item := range n.list {
			parts[i] = item.String()
		}
		return "(" + strings.Join(parts, ",") + ")"
	default:
		return strconv.FormatUint(uint64(n.first), 10)
	}
}
