package server

import (
	"github.com/nexroute/opcua-server/addrspace"
	"github.com/nexroute/opcua-server/ua"
)

// bindWellKnownMethods replaces the BadNotImplemented placeholders
// BuildWellKnownNodes installs with real functors that have access to
// the subscription engine and session table (addrspace deliberately has
// no such access, to avoid an import cycle with session/subscription).
func (s *Server) bindWellKnownMethods() {
	if node := s.space.GetNode(addrspace.MethodGetMonitoredItems); node != nil {
		node.Invoke = s.invokeGetMonitoredItems
	}
	if node := s.space.GetNode(addrspace.MethodSetSubscriptionDurable); node != nil {
		node.Invoke = s.invokeSetSubscriptionDurable
	}
	if node := s.space.GetNode(addrspace.MethodResendData); node != nil {
		node.Invoke = s.invokeResendData
	}
	if node := s.space.GetNode(addrspace.MethodRequestServerStateChange); node != nil {
		node.Invoke = s.invokeRequestServerStateChange
	}
}

func (s *Server) subscriptionArg(ctx addrspace.CallContext, args []ua.Variant) (uint32, ua.StatusCode) {
	if len(args) != 1 || args[0].Type != ua.TypeUInt32 {
		return 0, ua.BadInvalidArgument
	}
	subId := args[0].UInt32
	sub, ok := s.engine.Get(subId)
	if !ok {
		return 0, ua.BadSubscriptionIdInvalid
	}
	if !sub.SessionId.Equal(ctx.SessionId) {
		return 0, ua.BadUserAccessDenied
	}
	return subId, ua.Good
}

func (s *Server) invokeGetMonitoredItems(ctx addrspace.CallContext, args []ua.Variant) ([]ua.Variant, ua.StatusCode) {
	subId, status := s.subscriptionArg(ctx, args)
	if status != ua.Good {
		return nil, status
	}
	sub, _ := s.engine.Get(subId)
	serverIds, clientHandles := sub.ItemHandles()

	serverArr := make([]ua.Variant, len(serverIds))
	for i, id := range serverIds {
		serverArr[i] = ua.Variant{Type: ua.TypeUInt32, UInt32: id}
	}
	clientArr := make([]ua.Variant, len(clientHandles))
	for i, h := range clientHandles {
		clientArr[i] = ua.Variant{Type: ua.TypeUInt32, UInt32: h}
	}
	return []ua.Variant{
		{Type: ua.TypeUInt32, IsArray: true, Array: serverArr},
		{Type: ua.TypeUInt32, IsArray: true, Array: clientArr},
	}, ua.Good
}

func (s *Server) invokeSetSubscriptionDurable(ctx addrspace.CallContext, args []ua.Variant) ([]ua.Variant, ua.StatusCode) {
	if len(args) != 2 || args[0].Type != ua.TypeUInt32 || args[1].Type != ua.TypeUInt32 {
		return nil, ua.BadInvalidArgument
	}
	subId := args[0].UInt32
	sub, ok := s.engine.Get(subId)
	if !ok {
		return nil, ua.BadSubscriptionIdInvalid
	}
	if !sub.SessionId.Equal(ctx.SessionId) {
		return nil, ua.BadUserAccessDenied
	}
	revised, status := sub.SetDurable(args[1].UInt32, s.limits.MaxDurableHours)
	if status != ua.Good {
		return nil, status
	}
	return []ua.Variant{{Type: ua.TypeUInt32, UInt32: revised}}, ua.Good
}

func (s *Server) invokeResendData(ctx addrspace.CallContext, args []ua.Variant) ([]ua.Variant, ua.StatusCode) {
	subId, status := s.subscriptionArg(ctx, args)
	if status != ua.Good {
		return nil, status
	}
	sub, _ := s.engine.Get(subId)
	sub.ResendData()
	return nil, ua.Good
}

// invokeRequestServerStateChange: this server exposes no Running/Failed/
// Shutdown state machine (spec.md Non-goals exclude server redundancy),
// so the method is accepted and logged but never actually transitions
// anything.
func (s *Server) invokeRequestServerStateChange(ctx addrspace.CallContext, args []ua.Variant) ([]ua.Variant, ua.StatusCode) {
	s.logger.Info().Msg("server: RequestServerStateChange called, no state machine to transition")
	return nil, ua.Good
}
