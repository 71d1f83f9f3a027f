package jobs

import (
	"time"

	"bulksend/internal/events"
)

func eventFor(j *Job) events.Event {
	return events.Event{
		Type:     "job." + string(j.Status),
		JobID:    j.ID,
		UserID:   j.UserID,
		DeviceID: j.DeviceID,
		Status:   string(j.Status),
		Total:    j.Progress.Total,
		Sent:     j.Progress.Sent,
		Failed:   j.Progress.Failed,
		Error:    j.Error,
		At:       time.Now(),
	}
}
