package models

// TenderStatus (статус тендера)
type TenderStatus string

const (
	TenderOpen      TenderStatus = "open"
	TenderBAFO      TenderStatus = "bafo"
	TenderAwarded   TenderStatus = "awarded"
	TenderCancelled TenderStatus = "cancelled"
	TenderExpired   TenderStatus = "expired"
)

// JobStatus (статус работы)
type JobStatus string

const (
	JobNew        JobStatus = "new"
	JobOffered    JobStatus = "offered"
	JobAccepted   JobStatus = "accepted"
	JobInProgress JobStatus = "in_progress"
	JobDone       JobStatus = "done"
	JobDisputed   JobStatus = "disputed"
	JobCancelled  JobStatus = "cancelled"
)

// EscrowStatus (статус депозита)
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// Таблицы допустимых переходов. Всё, чего нет в таблице, запрещено.
var tenderTransitions = map[TenderStatus][]TenderStatus{
	TenderOpen:    {TenderBAFO, TenderAwarded, TenderCancelled, TenderExpired},
	TenderBAFO:    {TenderAwarded, TenderCancelled, TenderExpired},
	TenderAwarded: {TenderCancelled},
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobNew:        {JobOffered, JobAccepted, JobCancelled, JobDisputed},
	JobOffered:    {JobAccepted, JobCancelled, JobDisputed},
	JobAccepted:   {JobInProgress, JobCancelled, JobDisputed},
	JobInProgress: {JobDone, JobCancelled, JobDisputed},
}

var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowHeld: {EscrowReleased, EscrowRefunded},
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (s TenderStatus) CanTransition(to TenderStatus) bool {
	return contains(tenderTransitions[s], to)
}

func (s TenderStatus) Terminal() bool {
	return len(tenderTransitions[s]) == 0
}

func (s JobStatus) CanTransition(to JobStatus) bool {
	return contains(jobTransitions[s], to)
}

func (s JobStatus) Terminal() bool {
	return len(jobTransitions[s]) == 0
}

func (s EscrowStatus) CanTransition(to EscrowStatus) bool {
	return contains(escrowTransitions[s], to)
}

func (s EscrowStatus) Terminal() bool {
	return len(escrowTransitions[s]) == 0
}
