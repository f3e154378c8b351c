package addrspace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nexroute/opcua-server/ua"
)

// RelativePathElement is one parsed step of a RelativePath (spec.md
// §4.4 grammar).
type RelativePathElement struct {
	ReferenceTypeId ua.NodeId
	IsInverse       bool
	IncludeSubtypes bool
	TargetName      ua.QualifiedName
	TargetNameSet   bool
}

var reserved = map[rune]bool{
	'/': true, '.': true, '<': true, '>': true, ':': true, '#': true, '!': true, '&': true,
}

// forwardHierarchicalRefs / forwardAggregatesRefs are the well-known
// reference type ids implied by the '/' and '.' shorthand RefSpecs
// (spec.md §4.4 grammar: "'/' -- forward HierarchicalReferences,
// includeSubtypes", "'.' -- forward Aggregates, includeSubtypes").
var (
	refTypeHierarchicalReferences = ua.NewNumericNodeId(0, 33)
	refTypeAggregates             = ua.NewNumericNodeId(0, 44)
)

// ParseRelativePath parses the RelativePath grammar from spec.md §4.4
// into a sequence of elements. Unescaping of '&'-prefixed reserved
// characters and arbitrary Unicode in unescaped positions are both
// handled by scanning rune-by-rune rather than byte-by-byte.
func ParseRelativePath(path string) ([]RelativePathElement, error) {
	r := []rune(path)
	i := 0
	var elements []RelativePathElement

	for i < len(r) {
		el, next, err := parseElement(r, i)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
		i = next
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("addrspace: empty relative path")
	}
	return elements, nil
}

func parseElement(r []rune, i int) (RelativePathElement, int, error) {
	if i >= len(r) {
		return RelativePathElement{}, i, fmt.Errorf("addrspace: unexpected end of path")
	}

	var el RelativePathElement
	switch r[i] {
	case '/':
		el.ReferenceTypeId = refTypeHierarchicalReferences
		el.IncludeSubtypes = true
		i++
	case '.':
		el.ReferenceTypeId = refTypeAggregates
		el.IncludeSubtypes = true
		i++
	case '<':
		i++
		el.IncludeSubtypes = true
		for i < len(r) && (r[i] == '#' || r[i] == '!') {
			if r[i] == '#' {
				el.IncludeSubtypes = false
			} else {
				el.IsInverse = true
			}
			i++
		}
		nsIdx, name, next, err := parseQName(r, i, '>')
		if err != nil {
			return el, i, err
		}
		if next >= len(r) || r[next] != '>' {
			return el, i, fmt.Errorf("addrspace: unterminated reference type, expected '>'")
		}
		i = next + 1
		el.ReferenceTypeId = ua.NewStringNodeId(nsIdx, name)
	default:
		return el, i, fmt.Errorf("addrspace: expected RefSpec ('/','.','<') at position %d, got %q", i, r[i])
	}

	if i < len(r) && !isRefSpecStart(r[i]) {
		nsIdx, name, next, err := parseQName(r, i, 0)
		if err != nil {
			return el, i, err
		}
		el.TargetName = ua.QualifiedName{NamespaceIndex: nsIdx, Name: name}
		el.TargetNameSet = true
		i = next
	}
	return el, i, nil
}

func isRefSpecStart(c rune) bool { return c == '/' || c == '.' || c == '<' }

// parseQName parses an optional "N:" namespace prefix followed by
// escaped characters, stopping at an unescaped reserved character or
// (if stopAt != 0) specifically at stopAt.
func parseQName(r []rune, i int, stopAt rune) (uint16, string, int, error) {
	start := i
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		i++
	}
	var ns uint16
	if i > start && i < len(r) && r[i] == ':' {
		n, err := strconv.ParseUint(string(r[start:i]), 10, 16)
		if err != nil {
			return 0, "", i, fmt.Errorf("addrspace: invalid namespace index %q", string(r[start:i]))
		}
		ns = uint16(n)
		i++
	} else {
		i = start
	}

	var b strings.Builder
	for i < len(r) {
		c := r[i]
		if c == '&' {
			i++
			if i >= len(r) {
				return 0, "", i, fmt.Errorf("addrspace: trailing escape character")
			}
			b.WriteRune(r[i])
			i++
			continue
		}
		if stopAt != 0 && c == stopAt {
			break
		}
		if reserved[c] {
			break
		}
		b.WriteRune(c)
		i++
	}
	return ns, b.String(), i, nil
}

// BrowsePathTarget is one resolved target of TranslateBrowsePath.
type BrowsePathTarget struct {
	TargetId          ua.ExpandedNodeId
	RemainingPathIndex uint32 // u32::MAX when fully resolved
}

const remainingPathIndexNone = 0xFFFFFFFF

// BrowsePathResult is the outcome of translateBrowsePath for one path
// (spec.md §4.4).
type BrowsePathResult struct {
	Status  ua.StatusCode
	Targets []BrowsePathTarget
}

// TranslateBrowsePath walks the parsed relative path elements starting
// from startingNode, following references by type/name/direction at each
// step (spec.md §4.4).
func (s *Space) TranslateBrowsePath(startingNode ua.NodeId, elements []RelativePathElement) BrowsePathResult {
	current := []ua.NodeId{startingNode}
	for idx, el := range elements {
		var next []ua.NodeId
		for _, nodeId := range current {
			next = append(next, s.stepElement(nodeId, el)...)
		}
		if len(next) == 0 {
			return BrowsePathResult{Status: ua.BadNoMatch}
		}
		current = next
		_ = idx
	}

	targets := make([]BrowsePathTarget, len(current))
	for i, id := range current {
		targets[i] = BrowsePathTarget{TargetId: ua.ExpandedNodeId{NodeId: id}, RemainingPathIndex: remainingPathIndexNone}
	}
	return BrowsePathResult{Status: ua.Good, Targets: targets}
}

func (s *Space) stepElement(nodeId ua.NodeId, el RelativePathElement) []ua.NodeId {
	node := s.GetNode(nodeId)
	if node == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []ua.NodeId
	for _, ref := range node.References {
		wantForward := !el.IsInverse
		if ref.IsForward != wantForward {
			continue
		}
		if !el.ReferenceTypeId.IsNull() && !ref.ReferenceTypeId.Equal(el.ReferenceTypeId) && !el.IncludeSubtypes {
			continue
		}
		target := s.nodes[ref.TargetId.Key()]
		if target == nil {
			continue
		}
		if el.TargetNameSet && !(target.BrowseName.NamespaceIndex == el.TargetName.NamespaceIndex && target.BrowseName.Name == el.TargetName.Name) {
			continue
		}
		matches = append(matches, target.NodeId)
	}
	return matches
}
