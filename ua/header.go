package ua

// RequestHeader is the common prefix of every service request body
// (spec.md §4.1 / Part 4 §7.33).
type RequestHeader struct {
	AuthenticationToken NodeId
	Timestamp           int64
	RequestHandle       uint32
	ReturnDiagnostics   uint32
	AuditEntryId        *string
	TimeoutHint         uint32
	AdditionalHeader    *ExtensionObject
}

func (d *Decoder) GetRequestHeader() RequestHeader {
	return RequestHeader{
		AuthenticationToken: d.GetNodeId(),
		Timestamp:           d.GetDateTime(),
		RequestHandle:       d.GetUint32(),
		ReturnDiagnostics:   d.GetUint32(),
		AuditEntryId:        d.GetString(),
		TimeoutHint:         d.GetUint32(),
		AdditionalHeader:    d.GetExtensionObject(),
	}
}

func (e *Encoder) PutRequestHeader(h RequestHeader) {
	e.PutNodeId(h.AuthenticationToken)
	e.PutDateTime(h.Timestamp)
	e.PutUint32(h.RequestHandle)
	e.PutUint32(h.ReturnDiagnostics)
	e.PutString(h.AuditEntryId)
	e.PutUint32(h.TimeoutHint)
	e.PutExtensionObject(h.AdditionalHeader)
}

// ResponseHeader is the common prefix of every service response body
// (spec.md §4.1 / Part 4 §7.34). This server never has anything useful
// to put in ServiceDiagnostics/StringTable, so NewResponseHeader always
// encodes an empty DiagnosticInfo and string table; decoding them is
// still implemented for completeness and test round-trips.
type ResponseHeader struct {
	Timestamp         int64
	RequestHandle     uint32
	ServiceResult     StatusCode
	ServiceDiagnostic DiagnosticInfo
	StringTable       []string
	AdditionalHeader  *ExtensionObject
}

// NewResponseHeader builds a ResponseHeader answering req, stamped with
// the current time and carrying result as the overall ServiceResult.
func NewResponseHeader(req RequestHeader, result StatusCode, now int64) ResponseHeader {
	return ResponseHeader{
		Timestamp:     now,
		RequestHandle: req.RequestHandle,
		ServiceResult: result,
	}
}

func (e *Encoder) PutResponseHeader(h ResponseHeader) {
	e.PutDateTime(h.Timestamp)
	e.PutUint32(h.RequestHandle)
	e.PutStatusCode(h.ServiceResult)
	e.PutDiagnosticInfo(h.ServiceDiagnostic)
	e.PutInt32(int32(len(h.StringTable)))
	for _, s := range h.StringTable {
		str := s
		e.PutString(&str)
	}
	e.PutExtensionObject(h.AdditionalHeader)
}

func (d *Decoder) GetResponseHeader() ResponseHeader {
	h := ResponseHeader{
		Timestamp:     d.GetDateTime(),
		RequestHandle: d.GetUint32(),
		ServiceResult: d.GetStatusCode(),
	}
	h.ServiceDiagnostic = d.GetDiagnosticInfo()
	n := d.GetInt32()
	if n > 0 {
		h.StringTable = make([]string, n)
		for i := range h.StringTable {
			if s := d.GetString(); s != nil {
				h.StringTable[i] = *s
			}
		}
	}
	h.AdditionalHeader = d.GetExtensionObject()
	return h
}

// DiagnosticInfo mirrors Part 6 §5.2.2.12; this server never populates
// per-operation diagnostics, so the zero value (empty encoding mask)
// round-trips as "nothing present" on the wire.
type DiagnosticInfo struct {
	HasSymbolicId          bool
	SymbolicId             int32
	HasNamespaceUri        bool
	NamespaceUri           int32
	HasLocalizedText       bool
	LocalizedText          int32
	HasLocale              bool
	Locale                 int32
	HasAdditionalInfo      bool
	AdditionalInfo         string
	HasInnerStatusCode     bool
	InnerStatusCode        StatusCode
	HasInnerDiagnosticInfo bool
	InnerDiagnosticInfo    *DiagnosticInfo
}

const (
	diagSymbolicId      = 1 << 0
	diagNamespaceUri    = 1 << 1
	diagLocalizedText   = 1 << 2
	diagLocale          = 1 << 3
	diagAdditionalInfo  = 1 << 4
	diagInnerStatusCode = 1 << 5
	diagInnerDiagInfo   = 1 << 6
)

func (e *Encoder) PutDiagnosticInfo(d DiagnosticInfo) {
	var mask byte
	if d.HasSymbolicId {
		mask |= diagSymbolicId
	}
	if d.HasNamespaceUri {
		mask |= diagNamespaceUri
	}
	if d.HasLocalizedText {
		mask |= diagLocalizedText
	}
	if d.HasLocale {
		mask |= diagLocale
	}
	if d.HasAdditionalInfo {
		mask |= diagAdditionalInfo
	}
	if d.HasInnerStatusCode {
		mask |= diagInnerStatusCode
	}
	if d.HasInnerDiagnosticInfo {
		mask |= diagInnerDiagInfo
	}
	e.PutByte(mask)
	if d.HasSymbolicId {
		e.PutInt32(d.SymbolicId)
	}
	if d.HasNamespaceUri {
		e.PutInt32(d.NamespaceUri)
	}
	if d.HasLocalizedText {
		e.PutInt32(d.LocalizedText)
	}
	if d.HasLocale {
		e.PutInt32(d.Locale)
	}
	if d.HasAdditionalInfo {
		s := d.AdditionalInfo
		e.PutString(&s)
	}
	if d.HasInnerStatusCode {
		e.PutStatusCode(d.InnerStatusCode)
	}
	if d.HasInnerDiagnosticInfo && d.InnerDiagnosticInfo != nil {
		e.PutDiagnosticInfo(*d.InnerDiagnosticInfo)
	}
}

func (d *Decoder) GetDiagnosticInfo() DiagnosticInfo {
	mask := d.GetByte()
	var info DiagnosticInfo
	if mask&diagSymbolicId != 0 {
		info.HasSymbolicId = true
		info.SymbolicId = d.GetInt32()
	}
	if mask&diagNamespaceUri != 0 {
		info.HasNamespaceUri = true
		info.NamespaceUri = d.GetInt32()
	}
	if mask&diagLocalizedText != 0 {
		info.HasLocalizedText = true
		info.LocalizedText = d.GetInt32()
	}
	if mask&diagLocale != 0 {
		info.HasLocale = true
		info.Locale = d.GetInt32()
	}
	if mask&diagAdditionalInfo != 0 {
		info.HasAdditionalInfo = true
		if s := d.GetString(); s != nil {
			info.AdditionalInfo = *s
		}
	}
	if mask&diagInnerStatusCode != 0 {
		info.HasInnerStatusCode = true
		info.InnerStatusCode = d.GetStatusCode()
	}
	if mask&diagInnerDiagInfo != 0 {
		info.HasInnerDiagnosticInfo = true
		inner := d.GetDiagnosticInfo()
		info.InnerDiagnosticInfo = &inner
	}
	return info
}
