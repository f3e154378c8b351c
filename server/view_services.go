package server

import (
	"bytes"
	"time"

	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/ua"
)

func decodeBrowseDescriptions(d *ua.Decoder) []addrspace.BrowseDescription {
	n := d.GetInt32()
	if n <= 0 {
		return nil
	}
	out := make([]addrspace.BrowseDescription, n)
	for i := range out {
		out[i] = addrspace.BrowseDescription{
			NodeId:          d.GetNodeId(),
			Direction:       addrspace.BrowseDirection(d.GetInt32()),
			ReferenceTypeId: d.GetNodeId(),
			IncludeSubtypes: d.GetBool(),
			NodeClassMask:   d.GetUint32(),
			ResultMask:      d.GetUint32(),
		}
	}
	return out
}

func encodeBrowseResults(e *ua.Encoder, results []addrspace.BrowseResult) {
	e.PutInt32(int32(len(results)))
	for _, r := range results {
		e.PutStatusCode(r.Status)
		e.PutByteStringRaw(r.ContinuationPoint)
		e.PutInt32(int32(len(r.References)))
		for _, ref := range r.References {
			e.PutNodeId(ref.ReferenceTypeId)
			e.PutBool(ref.IsForward)
			e.PutExpandedNodeId(ref.TargetId)
			e.PutQualifiedName(ref.BrowseName)
			e.PutLocalizedText(ref.DisplayName)
			e.PutInt32(int32(ref.NodeClass))
		}
	}
}

func (s *Server) handleBrowse(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	d.GetNodeId() // view.ViewId: view-scoped Browse is out of scope, every Browse is over the whole address space
	d.GetDateTime()
	d.GetUint32()
	maxRefs := d.GetUint32()
	descriptions := decodeBrowseDescriptions(d)

	s.sessions.Touch(hdr.AuthenticationToken)
	results := s.space.Browse(descriptions, maxRefs)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, browseResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	encodeBrowseResults(e, results)
	putEmptyDiagnosticInfoArray(e)
	return buf.Bytes()
}

func (s *Server) handleBrowseNext(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	release := d.GetBool()
	n := d.GetInt32()
	var points [][]byte
	for i := int32(0); i < n; i++ {
		points = append(points, d.GetByteStringRaw())
	}

	s.sessions.Touch(hdr.AuthenticationToken)
	results := s.space.BrowseNext(points, release)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, browseNextResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	encodeBrowseResults(e, results)
	putEmptyDiagnosticInfoArray(e)
	return buf.Bytes()
}

func decodeRelativePathString(d *ua.Decoder) (ua.NodeId, string) {
	startingNode := d.GetNodeId()
	pathStr := ""
	if s := d.GetString(); s != nil {
		pathStr = *s
	}
	return startingNode, pathStr
}

// handleTranslateBrowsePaths carries each BrowsePath's RelativePath as
// its already-serialized string form (spec.md §4.4's grammar is
// text-based) rather than Part 4's structured RelativePathElement
// array, since the grammar is exactly what ParseRelativePath consumes.
func (s *Server) handleTranslateBrowsePaths(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	n := d.GetInt32()

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, translateBrowsePathsToNodeIdsResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))

	results := make([]addrspace.BrowsePathResult, 0, n)
	for i := int32(0); i < n; i++ {
		startingNode, pathStr := decodeRelativePathString(d)
		elements, err := addrspace.ParseRelativePath(pathStr)
		if err != nil {
			results = append(results, addrspace.BrowsePathResult{Status: ua.BadNoMatch})
			continue
		}
		results = append(results, s.space.TranslateBrowsePath(startingNode, elements))
	}

	e.PutInt32(int32(len(results)))
	for _, r := range results {
		e.PutStatusCode(r.Status)
		e.PutInt32(int32(len(r.Targets)))
		for _, t := range r.Targets {
			e.PutExpandedNodeId(t.TargetId)
			e.PutUint32(t.RemainingPathIndex)
		}
	}
	putEmptyDiagnosticInfoArray(e)
	return buf.Bytes()
}

// handleRegisterNodes/handleUnregisterNodes: this address space is a
// flat in-memory index keyed by NodeId already (spec.md §9's arena
// design note), so there is no cheaper "registered" alias to hand back;
// both services are accepted as identity operations per Part 4 §5.8.5's
// allowance that a server MAY return the same NodeIds unchanged.
func (s *Server) handleRegisterNodes(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	ids := getNodeIdArray(d)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, registerNodesResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	putNodeIdArray(e, ids)
	return buf.Bytes()
}

func (s *Server) handleUnregisterNodes(body []byte, now time.Time) []byte {
	d := ua.NewDecoder(bytes.NewReader(body))
	d.GetNodeId()
	hdr := d.GetRequestHeader()
	getNodeIdArray(d)

	buf := &bytes.Buffer{}
	e := ua.NewEncoder(buf)
	e.PutNodeId(ua.NewNumericNodeId(0, unregisterNodesResponseTypeId))
	e.PutResponseHeader(ua.NewResponseHeader(hdr, ua.Good, ua.DateTimeToTicks(now)))
	return buf.Bytes()
}
