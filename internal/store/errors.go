package store

import (
	"fmt"

	apperrors "farm-automation/internal/errors"
	"farm-automation/internal/models"
)

func ThresholdNotFound(id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("threshold %s not found", id), nil)
}

func TaskNotFound(id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("automation task %s not found", id), nil)
}

func AlertNotFound(id string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("alert %s not found", id), nil)
}

// TransitionRejected is returned when a strict alert patch does not apply to
// the stored status.
func TransitionRejected(id string, current models.AlertStatus, p models.AlertPatch) error {
	target := ""
	if p.Status != nil {
		target = string(*p.Status)
	}
	return apperrors.NewConflictError(
		fmt.Sprintf("alert %s cannot move from %s to %s", id, current, target), nil,
	).WithDetails(map[string]string{"currentStatus": string(current), "requestedStatus": target})
}
