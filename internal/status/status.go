package status

import "fmt"

// Status is a payment lifecycle state as reported by the gateway.
// The set is closed: the gateway never emits code 6, and any integer
// outside the set below must be treated as an error by the caller.
type Status int

const (
	Initialize       Status = 0
	Pending          Status = 1
	PartialPaid      Status = 2
	WaitingToConfirm Status = 3
	Timeout          Status = 4
	UserCanceled     Status = 5
	Paid             Status = 7
	Approve          Status = 8
	Reject           Status = 9
)

// ErrUnknownStatus is returned by Parse for any integer outside the
// closed status set. New gateway codes must be added here explicitly;
// silently ignoring an unknown code could mask a new "paid" state.
type ErrUnknownStatus struct {
	Raw int
}

func (e ErrUnknownStatus) Error() string {
	return fmt.Sprintf("unknown payment status code %d", e.Raw)
}

// Parse converts a raw gateway integer into a Status.
func Parse(raw int) (Status, error) {
	switch s := Status(raw); s {
	case Initialize, Pending, PartialPaid, WaitingToConfirm,
		Timeout, UserCanceled, Paid, Approve, Reject:
		return s, nil
	default:
		return 0, ErrUnknownStatus{Raw: raw}
	}
}

// IsFulfillmentTrigger reports whether the status permits releasing
// goods to the customer. Only Paid and Approve qualify.
func (s Status) IsFulfillmentTrigger() bool {
	return s == Paid || s == Approve
}

// IsTerminal reports whether no further progress is expected.
func (s Status) IsTerminal() bool {
	switch s {
	case Timeout, UserCanceled, Reject, Paid, Approve:
		return true
	}
	return false
}

// IsTerminalNegative reports a terminal state that did not result in
// payment.
func (s Status) IsTerminalNegative() bool {
	return s == Timeout || s == UserCanceled || s == Reject
}

// IsTransient reports a state the order can still move out of.
func (s Status) IsTransient() bool {
	switch s {
	case Initialize, Pending, PartialPaid, WaitingToConfirm:
		return true
	}
	return false
}

// Rank orders statuses for the monotone transition rule: a status may
// replace the last applied one only if its rank is strictly greater.
// Transient states order by payment progress; all terminal states rank
// above every transient one.
func (s Status) Rank() int {
	switch s {
	case Initialize:
		return 0
	case Pending:
		return 1
	case PartialPaid:
		return 2
	case WaitingToConfirm:
		return 3
	case Timeout, UserCanceled, Reject:
		return 4
	case Paid, Approve:
		return 5
	}
	return -1
}

func (s Status) String() string {
	switch s {
	case Initialize:
		return "INITIALIZE"
	case Pending:
		return "PENDING"
	case PartialPaid:
		return "PARTIAL_PAID"
	case WaitingToConfirm:
		return "WAITING_TO_CONFIRM"
	case Timeout:
		return "TIMEOUT"
	case UserCanceled:
		return "USER_CANCELED"
	case Paid:
		return "PAID"
	case Approve:
		return "APPROVE"
	case Reject:
		return "REJECT"
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}
