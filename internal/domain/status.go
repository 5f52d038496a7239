package domain

type TransactionStatus string

const (
	StatusWaitingPayment      TransactionStatus = "waiting_payment"
	StatusWaitingConfirmation TransactionStatus = "waiting_confirmation"
	StatusDone                TransactionStatus = "done"
	StatusRejected            TransactionStatus = "rejected"
	StatusExpired             TransactionStatus = "expired"
	StatusCanceled            TransactionStatus = "canceled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusWaitingPayment, StatusWaitingConfirmation, StatusDone,
		StatusRejected, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// Terminal statuses admit no further transitions.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusRejected, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// RequiresRollback reports whether entering this status must compensate the
// side effects of creation: release reserved seats and refund spent points.
func (s TransactionStatus) RequiresRollback() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusWaitingPayment: {
		StatusWaitingConfirmation,
		StatusRejected, StatusExpired, StatusCanceled,
	},
	StatusWaitingConfirmation: {
		StatusDone,
		StatusRejected, StatusExpired, StatusCanceled,
	},
}

// CanTransitionTo reports whether the lifecycle permits moving from s to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}
