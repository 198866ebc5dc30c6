package gossip

// EventStatus is the outcome of running an inbound event through the
// admission gate. Any status other than Valid means the event was silently
// discarded; the sending peer is never notified.
type EventStatus uint8

const (
	// Valid means the event was admitted and handed to the intake consumer.
	Valid EventStatus = iota

	// InvalidZeroStakeNode means the creator has no voting weight in the
	// current peer-set.
	InvalidZeroStakeNode

	// InvalidCreationTime means the event's creation time is not strictly
	// after its resident self-parent's.
	InvalidCreationTime

	// InvalidTransactionsSize means the serialized transaction payload
	// exceeds the configured maximum.
	InvalidTransactionsSize

	// InvalidDuplicateEvent means the event's hash is already in the index.
	InvalidDuplicateEvent

	// InvalidMissingSelfParent means the event claims a non-ancient
	// self-parent that is not resident.
	InvalidMissingSelfParent

	// InvalidMissingOtherParent means the event claims a non-ancient
	// other-parent that is not resident.
	InvalidMissingOtherParent

	// InvalidEventSignature means the creator's signature does not verify.
	InvalidEventSignature
)

// String returns the canonical name of the status.
func (s EventStatus) String() string {
	switch s {
	case Valid:
		return "VALID"
	case InvalidZeroStakeNode:
		return "INVALID_ZERO_STAKE_NODE"
	case InvalidCreationTime:
		return "INVALID_CREATION_TIME"
	case InvalidTransactionsSize:
		return "INVALID_TRANSACTIONS_SIZE"
	case InvalidDuplicateEvent:
		return "INVALID_DUPLICATE_EVENT"
	case InvalidMissingSelfParent:
		return "INVALID_MISSING_SELF_PARENT"
	case InvalidMissingOtherParent:
		return "INVALID_MISSING_OTHER_PARENT"
	case InvalidEventSignature:
		return "INVALID_EVENT_SIGNATURE"
	default:
		return "UNKNOWN"
	}
}
