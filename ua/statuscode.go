// Package ua implements the OPC UA Binary wire codec and core data model:
// NodeId, QualifiedName, Variant, DataValue and ExtensionObject, plus the
// StatusCode values the rest of the engine reports through.
package ua

import "fmt"

// StatusCode is a 32-bit value: top two bits are the severity, the rest
// encodes the specific condition. We only model the handful of codes the
// server core actually returns (spec.md §7), not the full registry.
type StatusCode uint32

const (
	Good StatusCode = 0x00000000

	BadUnexpectedError             StatusCode = 0x80010000
	BadInternalError               StatusCode = 0x80020000
	BadOutOfMemory                 StatusCode = 0x80030000
	BadNotImplemented              StatusCode = 0x80040000
	BadNoCommunication             StatusCode = 0x80050000
	BadTimeout                     StatusCode = 0x800A0000
	BadInvalidArgument              StatusCode = 0x80200000
	BadConnectionRejected           StatusCode = 0x80210000
	BadRequestCancelledByRequest    StatusCode = 0x80220000
	BadSessionIdInvalid             StatusCode = 0x80230000
	BadSessionClosed                StatusCode = 0x80250000
	BadSessionNotActivated          StatusCode = 0x80270000
	BadSecureChannelIdInvalid       StatusCode = 0x80240000
	BadSecureChannelClosed          StatusCode = 0x80560000
	BadSecurityChecksFailed         StatusCode = 0x80130000
	BadSecureChannelTokenUnknown    StatusCode = 0x80550000
	BadApplicationSignatureInvalid  StatusCode = 0x80600000
	BadTooManySessions              StatusCode = 0x80580000
	BadTooManySubscriptions         StatusCode = 0x80B10000
	BadTooManyPublishRequests       StatusCode = 0x80380000
	BadTooManyOperations            StatusCode = 0x80590000
	BadTooManyMonitoredItems        StatusCode = 0x80DB0000
	BadNoSubscription               StatusCode = 0x80460000
	BadSubscriptionIdInvalid        StatusCode = 0x80070000
	BadMessageNotAvailable          StatusCode = 0x80710000
	BadMonitoredItemIdInvalid       StatusCode = 0x80300000
	BadNodeIdUnknown                StatusCode = 0x80340000
	BadNodeIdInvalid                StatusCode = 0x80330000
	BadAttributeIdInvalid           StatusCode = 0x80350000
	BadNotWritable                  StatusCode = 0x803C0000
	BadNotReadable                  StatusCode = 0x803A0000
	BadTypeMismatch                 StatusCode = 0x80370000
	BadMethodInvalid                StatusCode = 0x80440000
	BadArgumentsMissing             StatusCode = 0x80450000
	BadTooManyArguments             StatusCode = 0x80E50000
	BadNothingToDo                  StatusCode = 0x80180000
	BadUserAccessDenied             StatusCode = 0x801F0000
	BadInvalidState                 StatusCode = 0x80AF0000
	BadTcpMessageTooLarge           StatusCode = 0x80720000
	BadHistoryOperationUnsupported  StatusCode = 0x80490000
	BadNodeIdExists                 StatusCode = 0x803E0000
	BadBrowseNameInvalid            StatusCode = 0x80680000
	BadNoMatch                      StatusCode = 0x80AA0000
	BadContinuationPointInvalid     StatusCode = 0x804B0000
	BadNoDeleteRights               StatusCode = 0x803F0000
	BadSequenceNumberUnknown        StatusCode = 0x80D50000
	UncertainInitialValue           StatusCode = 0x40920000
)

// IsGood reports whether the severity bits indicate success (00).
func (s StatusCode) IsGood() bool { return s&0xC0000000 == 0x00000000 }

// IsBad reports whether the severity bits indicate failure (10).
func (s StatusCode) IsBad() bool { return s&0xC0000000 == 0x80000000 }

// IsUncertain reports whether the severity bits indicate an uncertain value (01).
func (s StatusCode) IsUncertain() bool { return s&0xC0000000 == 0x40000000 }

var statusCodeNames = map[StatusCode]string{
	Good:                           "Good",
	BadUnexpectedError:             "BadUnexpectedError",
	BadInternalError:               "BadInternalError",
	BadOutOfMemory:                 "BadOutOfMemory",
	BadNotImplemented:              "BadNotImplemented",
	BadNoCommunication:             "BadNoCommunication",
	BadTimeout:                     "BadTimeout",
	BadInvalidArgument:             "BadInvalidArgument",
	BadConnectionRejected:          "BadConnectionRejected",
	BadRequestCancelledByRequest:   "BadRequestCancelledByRequest",
	BadSessionIdInvalid:            "BadSessionIdInvalid",
	BadSessionClosed:               "BadSessionClosed",
	BadSessionNotActivated:         "BadSessionNotActivated",
	BadSecureChannelIdInvalid:      "BadSecureChannelIdInvalid",
	BadSecureChannelClosed:         "BadSecureChannelClosed",
	BadSecurityChecksFailed:        "BadSecurityChecksFailed",
	BadSecureChannelTokenUnknown:   "BadSecureChannelTokenUnknown",
	BadApplicationSignatureInvalid: "BadApplicationSignatureInvalid",
	BadTooManySessions:             "BadTooManySessions",
	BadTooManySubscriptions:        "BadTooManySubscriptions",
	BadTooManyPublishRequests:      "BadTooManyPublishRequests",
	BadTooManyOperations:           "BadTooManyOperations",
	BadTooManyMonitoredItems:       "BadTooManyMonitoredItems",
	BadNoSubscription:              "BadNoSubscription",
	BadSubscriptionIdInvalid:       "BadSubscriptionIdInvalid",
	BadMessageNotAvailable:         "BadMessageNotAvailable",
	BadMonitoredItemIdInvalid:      "BadMonitoredItemIdInvalid",
	BadNodeIdUnknown:               "BadNodeIdUnknown",
	BadNodeIdInvalid:               "BadNodeIdInvalid",
	BadAttributeIdInvalid:          "BadAttributeIdInvalid",
	BadNotWritable:                 "BadNotWritable",
	BadNotReadable:                 "BadNotReadable",
	BadTypeMismatch:                "BadTypeMismatch",
	BadMethodInvalid:               "BadMethodInvalid",
	BadArgumentsMissing:            "BadArgumentsMissing",
	BadTooManyArguments:            "BadTooManyArguments",
	BadNothingToDo:                 "BadNothingToDo",
	BadUserAccessDenied:            "BadUserAccessDenied",
	BadInvalidState:                "BadInvalidState",
	BadTcpMessageTooLarge:          "BadTcpMessageTooLarge",
	BadHistoryOperationUnsupported: "BadHistoryOperationUnsupported",
	BadNodeIdExists:                "BadNodeIdExists",
	BadBrowseNameInvalid:           "BadBrowseNameInvalid",
	BadNoMatch:                     "BadNoMatch",
	BadContinuationPointInvalid:    "BadContinuationPointInvalid",
	BadNoDeleteRights:              "BadNoDeleteRights",
	BadSequenceNumberUnknown:       "BadSequenceNumberUnknown",
	UncertainInitialValue:          "UncertainInitialValue",
}

// String renders the symbolic name used throughout logging and
// diagnostics, falling back to the raw hex value for codes outside the
// modeled set.
func (s StatusCode) String() string {
	if name, ok := statusCodeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}
