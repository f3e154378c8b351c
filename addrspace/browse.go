package addrspace

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/nexroute/opcua-server/ua"
)

// BrowseDirection selects which reference orientation Browse follows.
type BrowseDirection int32

const (
	BrowseForward BrowseDirection = iota
	BrowseInverse
	BrowseBoth
)

// BrowseDescription is one entry of a Browse request (spec.md §4.4).
// A zero ReferenceTypeId (NullNodeId) means "all reference types".
type BrowseDescription struct {
	NodeId          ua.NodeId
	ReferenceTypeId ua.NodeId
	Direction       BrowseDirection
	IncludeSubtypes bool
	NodeClassMask   uint32 // 0 = no filtering
	ResultMask      uint32
}

// ReferenceDescription is one matched reference returned by Browse.
type ReferenceDescription struct {
	ReferenceTypeId ua.NodeId
	IsForward       bool
	TargetId        ua.ExpandedNodeId
	BrowseName      ua.QualifiedName
	DisplayName     ua.LocalizedText
	NodeClass       NodeClass
}

// BrowseResult is the per-description outcome.
type BrowseResult struct {
	Status            ua.StatusCode
	ContinuationPoint []byte
	References        []ReferenceDescription
}

// continuationStore holds paged-out references awaiting BrowseNext,
// keyed by an opaque token, and is released through BrowseNext. It only
// tracks the remaining reference list per token: neither this package
// nor the session package limits the number of tokens a session holds,
// and closing a session does not drop the tokens it was handed.
type continuationStore struct {
	mu      sync.Mutex
	pending map[string][]ReferenceDescription
}

func newContinuationStore() *continuationStore {
	return &continuationStore{pending: make(map[string][]ReferenceDescription)}
}

func (cs *continuationStore) put(refs []ReferenceDescription) []byte {
	token := make([]byte, 8)
	_, _ = rand.Read(token)
	cs.mu.Lock()
	cs.pending[hex.EncodeToString(token)] = refs
	cs.mu.Unlock()
	return token
}

func (cs *continuationStore) take(token []byte) ([]ReferenceDescription, bool) {
	key := hex.EncodeToString(token)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	refs, ok := cs.pending[key]
	if ok {
		delete(cs.pending, key)
	}
	return refs, ok
}

func (cs *continuationStore) release(token []byte) {
	cs.mu.Lock()
	delete(cs.pending, hex.EncodeToString(token))
	cs.mu.Unlock()
}

// Browse resolves each description against the graph, applying
// direction/reference-type/node-class filtering and paging at
// maxReferencesPerNode (0 = unlimited).
func (s *Space) Browse(descriptions []BrowseDescription, maxReferencesPerNode uint32) []BrowseResult {
	results := make([]BrowseResult, len(descriptions))
	for i, d := range descriptions {
		results[i] = s.browseOne(d, maxReferencesPerNode)
	}
	return results
}

func (s *Space) browseOne(d BrowseDescription, maxReferencesPerNode uint32) BrowseResult {
	node := s.GetNode(d.NodeId)
	if node == nil {
		return BrowseResult{Status: ua.BadNodeIdUnknown}
	}

	s.mu.RLock()
	var matched []ReferenceDescription
	for _, ref := range node.References {
		if !d.ReferenceTypeId.IsNull() && !ref.ReferenceTypeId.Equal(d.ReferenceTypeId) && !d.IncludeSubtypes {
			continue
		}
		switch d.Direction {
		case BrowseForward:
			if !ref.IsForward {
				continue
			}
		case BrowseInverse:
			if ref.IsForward {
				continue
			}
		}
		target := s.nodes[ref.TargetId.Key()]
		if target == nil {
			continue
		}
		if d.NodeClassMask != 0 && uint32(target.Class)&d.NodeClassMask == 0 {
			continue
		}
		matched = append(matched, ReferenceDescription{
			ReferenceTypeId: ref.ReferenceTypeId,
			IsForward:       ref.IsForward,
			TargetId:        ua.ExpandedNodeId{NodeId: target.NodeId},
			BrowseName:      target.BrowseName,
			DisplayName:     target.DisplayName,
			NodeClass:       target.Class,
		})
	}
	s.mu.RUnlock()

	if maxReferencesPerNode == 0 || uint32(len(matched)) <= maxReferencesPerNode {
		return BrowseResult{Status: ua.Good, References: matched}
	}

	page := matched[:maxReferencesPerNode]
	rest := matched[maxReferencesPerNode:]
	token := s.continuations().put(rest)
	return BrowseResult{Status: ua.Good, References: page, ContinuationPoint: token}
}

// BrowseNext resumes paging for the given continuation points. When
// release is true, the points are invalidated without returning data
// (used when the caller no longer wants more pages; nothing calls it
// when a session closes).
func (s *Space) BrowseNext(points [][]byte, release bool) []BrowseResult {
	results := make([]BrowseResult, len(points))
	for i, token := range points {
		if release {
			s.continuations().release(token)
			results[i] = BrowseResult{Status: ua.Good}
			continue
		}
		refs, ok := s.continuations().take(token)
		if !ok {
			results[i] = BrowseResult{Status: ua.BadContinuationPointInvalid}
			continue
		}
		results[i] = BrowseResult{Status: ua.Good, References: refs}
	}
	return results
}

func (s *Space) continuations() *continuationStore {
	s.mu.Lock()
	if s.continuationsField == nil {
		s.continuationsField = newContinuationStore()
	}
	cs := s.continuationsField
	s.mu.Unlock()
	return cs
}
