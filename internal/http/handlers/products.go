package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/imaginethisprinted/aistudio/internal/api"
	"github.com/imaginethisprinted/aistudio/internal/service"
)

func (a *App) productID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "product id required")
		return "", false
	}
	return id, true
}

// CreateProduct handles the describe step: a draft product plus its first
// image-generation job.
func (a *App) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProductRequest
	if err := a.decode(r, &req, false); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	res, err := a.Products.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, api.CreateProductResponse{
		Product: api.FromProduct(res.Product),
		Job:     api.FromJob(res.Job),
		Interpretation: api.Interpretation{
			Name:     res.Interpretation.Name,
			Category: res.Interpretation.Category,
			Prompt:   res.Interpretation.Prompt,
			Style:    res.Interpretation.Style,
		},
	})
}

func (a *App) ProductStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := a.productID(w, r)
	if !ok {
		return
	}
	status, err := a.Products.Status(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	a.json(w, http.StatusOK, api.Status{
		Product:      api.FromProduct(status.Product),
		Jobs:         api.FromJobs(status.Jobs),
		Assets:       api.FromAssets(status.Assets),
		AssetsByKind: api.FromAssetsByKind(status.AssetsByKind),
	})
}

func (a *App) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	id, ok := a.productID(w, r)
	if !ok {
		return
	}
	var req api.AssetRequest
	if err := a.decode(r, &req, true); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Products.RemoveBackground(r.Context(), id, req.AssetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

func (a *App) CreateMockups(w http.ResponseWriter, r *http.Request) {
	id, ok := a.productID(w, r)
	if !ok {
		return
	}
	var req api.MockupsRequest
	if err := a.decode(r, &req, true); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobs, err := a.Products.CreateMockups(r.Context(), id, req.SourceAssetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := api.JobsResponse{Jobs: make([]api.Job, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, api.FromJob(job))
	}
	a.json(w, http.StatusAccepted, resp)
}

func (a *App) Upscale(w http.ResponseWriter, r *http.Request) {
	id, ok := a.productID(w, r)
	if !ok {
		return
	}
	var req api.AssetRequest
	if err := a.decode(r, &req, true); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Products.Upscale(r.Context(), id, req.AssetID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

func (a *App) Regenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := a.productID(w, r)
	if !ok {
		return
	}
	job, err := a.Products.Regenerate(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

func (a *App) ApproveProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := a.productID(w, r)
	if !ok {
		return
	}
	product, err := a.Products.Approve(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, api.ProductResponse{Product: api.FromProduct(product)})
}

func (a *App) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := a.productID(w, r)
	if !ok {
		return
	}
	assetID := strings.TrimSpace(chi.URLParam(r, "assetID"))
	if assetID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "asset id required")
		return
	}
	if err := a.Products.DeleteAsset(r.Context(), id, assetID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
