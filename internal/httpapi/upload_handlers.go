package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/auth"
)

const uploadField = "file"

func (a *API) mountUploads(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(a.guard(false, false))
		r.With(requireOne(auth.SubjectFile, auth.ActionCreate)).Post("/upload/file", a.uploadFile)
		r.With(requireOne(auth.SubjectFile, auth.ActionListing)).Get("/upload/file", a.listFiles)
		r.With(requireOne(auth.SubjectFile, auth.ActionListing)).Get("/upload/file/{name}", a.serveFile)
	})
}

// uploadFile streams the first "file" part of a multipart body to storage.
func (a *API) uploadFile(w http.ResponseWriter, r *http.Request) {
	if a.uploads == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Uploads are disabled", nil)
		return
	}
	if a.uploadMaxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.uploadMaxBody)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeFailure(w, r, auth.Invalid(uploadField, "Request must be multipart/form-data"))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		info, err := a.uploads.Save(r.Context(), part.FileName(), part)
		_ = part.Close()
		if err != nil {
			writeFailure(w, r, err)
			return
		}
		a.history.Record(r.Context(), auth.SubjectFile, auth.ActionCreate, info.Name, nil, info)
		writeData(w, http.StatusCreated, info)
		return
	}
	writeFailure(w, r, auth.Invalid(uploadField, "File is required"))
}

func (a *API) listFiles(w http.ResponseWriter, r *http.Request) {
	if a.uploads == nil {
		writeData(w, http.StatusOK, []string{})
		return
	}
	files, err := a.uploads.List(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, files)
}

func (a *API) serveFile(w http.ResponseWriter, r *http.Request) {
	if a.uploads == nil {
		writeFailure(w, r, auth.NotFound("File not found"))
		return
	}
	f, info, err := a.uploads.Open(chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			err = auth.NotFound("File not found")
		}
		writeFailure(w, r, err)
		return
	}
	defer f.Close()
	http.ServeContent(w, r, info.Name, info.ModifiedAt, f)
}
