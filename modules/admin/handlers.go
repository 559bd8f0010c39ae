package admin

import (
	"net/http"

	"github.com/dmitrymomot/courier/pkg/queue"
)

func (a *api) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	opts, err := req.options()
	if err != nil {
		a.fail(w, r, err)
		return
	}

	receipt, err := a.svc.Enqueue(r.Context(), req.Kind, req.Payload, opts...)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	status := http.StatusAccepted
	if receipt.Skipped {
		status = http.StatusOK
	}
	a.ok(w, status, receipt)
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	view, err := a.svc.Status(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, view)
}

func (a *api) history(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	records, err := a.svc.History(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if records == nil {
		records = []queue.TransitionRecord{}
	}
	a.ok(w, http.StatusOK, records)
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	cancelled, err := a.svc.Cancel(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (a *api) retry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	newID, err := a.svc.Retry(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusAccepted, map[string]string{"job_id": newID.String()})
}

func (a *api) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	summary, err := a.svc.EnqueueBatch(r.Context(), req.Recipients, queue.BatchTemplate{
		Subject:  req.Subject,
		Template: req.Template,
		Vars:     req.Vars,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusAccepted, summary)
}

func (a *api) batch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	view, err := a.svc.Batch(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, http.StatusOK, view)
}

func (a *api) scheduleDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}

	receipt, err := a.svc.ScheduleDigest(r.Context(), req.UserID,
		queue.DigestWindow{Start: req.Start, End: req.End},
		queue.DigestPreferences{
			WeeklyDigestEnabled: req.WeeklyDigestEnabled,
			Email:               req.Email,
			Name:                req.Name,
		})
	if err != nil {
		a.fail(w, r, err)
		return
	}

	status := http.StatusAccepted
	if receipt.Skipped {
		status = http.StatusOK
	}
	a.ok(w, status, receipt)
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Data: a.svc.Stats(r.Context()),
		Meta: map[string]any{"paused": a.svc.Paused()},
	})
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	a.svc.Pause()
	a.ok(w, http.StatusOK, map[string]bool{"paused": a.svc.Paused()})
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	a.svc.Resume()
	a.ok(w, http.StatusOK, map[string]bool{"paused": a.svc.Paused()})
}
