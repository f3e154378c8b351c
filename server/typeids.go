package server

// Service request/response TypeId numeric identifiers (Part 6 Appendix
// A), namespace 0. Dispatch switches on the request side; the matching
// response side is used when encoding each handler's answer.
const (
	createSessionRequestTypeId  = 461
	createSessionResponseTypeId = 464

	activateSessionRequestTypeId  = 467
	activateSessionResponseTypeId = 470

	closeSessionRequestTypeId  = 473
	closeSessionResponseTypeId = 476

	cancelRequestTypeId  = 479
	cancelResponseTypeId = 482

	browseRequestTypeId  = 527
	browseResponseTypeId = 530

	browseNextRequestTypeId  = 533
	browseNextResponseTypeId = 536

	translateBrowsePathsToNodeIdsRequestTypeId  = 554
	translateBrowsePathsToNodeIdsResponseTypeId = 557

	registerNodesRequestTypeId  = 560
	registerNodesResponseTypeId = 563

	unregisterNodesRequestTypeId  = 566
	unregisterNodesResponseTypeId = 569

	readRequestTypeId  = 631
	readResponseTypeId = 634

	historyReadRequestTypeId  = 664
	historyReadResponseTypeId = 667

	writeRequestTypeId  = 673
	writeResponseTypeId = 676

	historyUpdateRequestTypeId  = 700
	historyUpdateResponseTypeId = 703

	callRequestTypeId  = 712
	callResponseTypeId = 715

	createMonitoredItemsRequestTypeId  = 751
	createMonitoredItemsResponseTypeId = 754

	modifyMonitoredItemsRequestTypeId  = 763
	modifyMonitoredItemsResponseTypeId = 766

	setMonitoringModeRequestTypeId  = 769
	setMonitoringModeResponseTypeId = 772

	setTriggeringRequestTypeId  = 775
	setTriggeringResponseTypeId = 778

	deleteMonitoredItemsRequestTypeId  = 781
	deleteMonitoredItemsResponseTypeId = 784

	createSubscriptionRequestTypeId  = 787
	createSubscriptionResponseTypeId = 790

	modifySubscriptionRequestTypeId  = 793
	modifySubscriptionResponseTypeId = 796

	setPublishingModeRequestTypeId  = 799
	setPublishingModeResponseTypeId = 802

	publishRequestTypeId  = 826
	publishResponseTypeId = 829

	republishRequestTypeId  = 832
	republishResponseTypeId = 835

	transferSubscriptionsRequestTypeId  = 841
	transferSubscriptionsResponseTypeId = 844

	deleteSubscriptionsRequestTypeId  = 847
	deleteSubscriptionsResponseTypeId = 850
)
