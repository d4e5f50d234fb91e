package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"marketplace/internal/jobs"
	"marketplace/models"
)

func (h *Handler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in jobs.JobInput
	if !decodeBody(w, r, &in) {
		return
	}
	job, err := h.svc.Jobs.CreateJob(r.Context(), actor, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.svc.Jobs.GetJob)
}

func (h *Handler) OfferJobHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProID uuid.UUID `json:"proId"`
	}
	h.jobAction(w, r, func(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
		return h.svc.Jobs.OfferJob(ctx, actor, jobID, req.ProID)
	}, &req)
}

func (h *Handler) AcceptJobHandler(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.svc.Jobs.AcceptJob)
}

// StartJobHandler запускает работу по коду старта
func (h *Handler) StartJobHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OTP string `json:"otp"`
	}
	h.jobAction(w, r, func(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error) {
		return h.svc.Jobs.StartJob(ctx, actor, jobID, req.OTP)
	}, &req)
}

// FinishJobHandler завершает работу; предупреждения об авто-выплате приходят в ответе
func (h *Handler) FinishJobHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := uuidParam(w, r, "jobId")
	if !ok {
		return
	}
	var in jobs.FinishInput
	if !decodeBody(w, r, &in) {
		return
	}
	result, err := h.svc.Jobs.FinishJob(r.Context(), actor, jobID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.svc.Jobs.CancelJob)
}

func (h *Handler) DisputeJobHandler(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.svc.Jobs.DisputeJob)
}

type jobFunc func(ctx context.Context, actor models.Actor, jobID uuid.UUID) (*models.Job, error)

// jobAction задаёт общий путь для операций над одной работой; body, если передан, читается до вызова
func (h *Handler) jobAction(w http.ResponseWriter, r *http.Request, fn jobFunc, body ...any) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	jobID, ok := uuidParam(w, r, "jobId")
	if !ok {
		return
	}
	for _, dst := range body {
		if !decodeBody(w, r, dst) {
			return
		}
	}
	job, err := fn(r.Context(), actor, jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
