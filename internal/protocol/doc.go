// Package protocol carries messages between the host controller and a content sandbox.
//
// Each sandbox gets its own Pipe. The two directions are independent FIFO queues;
// there is no ordering between them and no shared memory: a message is encoded
// when posted and decoded again on delivery.
//
// Host states:
//
//	AwaitingReady -> AwaitingNavigationOrFileRequest -> NavigatingAway
//
// Content states:
//
//	Booting -> AwaitingContext -> Rewriting -> Ready -> Interactive
//
// A sandbox announces itself with ready; the host answers with setContext and
// scrollToAnchor. File requests (retrieveFile/sendFile) are correlated by path.
// Closing a pipe disposes it for both ends, so replies to a replaced sandbox are
// dropped instead of reaching its successor.
package protocol
