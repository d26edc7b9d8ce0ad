package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
)

func (a *API) mountRoles(r chi.Router) {
	viewRoles := append(auth.SubjectActions(auth.SubjectRole),
		auth.Require(auth.SubjectUser, auth.UserSetRole),
		auth.Require(auth.SubjectUser, auth.UserSetRolePermissions))

	r.Group(func(r chi.Router) {
		r.Use(a.guard(false, false))
		r.With(requirePermission(auth.Any, viewRoles...)).Get("/role", a.listRoles)
		r.With(requirePermission(auth.Any, viewRoles...)).Get("/role/{key}", a.getRole)
		r.With(requireOne(auth.SubjectRole, auth.ActionCreate)).Post("/role", a.createRole)
		r.With(requireOne(auth.SubjectRole, auth.ActionUpdate)).Patch("/role", a.updateRole)
		r.With(requireOne(auth.SubjectRole, auth.ActionUpdate)).Put("/role", a.updateRole)
		r.With(requireOne(auth.SubjectRole, auth.ActionDelete)).Delete("/role/{id}", a.deleteRole)
	})
}

func (a *API) mountDepartments(r chi.Router) {
	viewDepartments := auth.SubjectActions(auth.SubjectDepartment)

	r.Group(func(r chi.Router) {
		r.Use(a.guard(false, false))
		r.With(requirePermission(auth.Any, viewDepartments...)).Get("/department", a.listDepartments)
		r.With(requirePermission(auth.Any, viewDepartments...)).Get("/department/tree", a.departmentTree)
		r.With(requirePermission(auth.Any, viewDepartments...)).Get("/department/{id}", a.getDepartment)
		r.With(requireOne(auth.SubjectDepartment, auth.ActionCreate)).Post("/department", a.createDepartment)
		r.With(requireOne(auth.SubjectDepartment, auth.ActionUpdate)).Patch("/department", a.updateDepartment)
		r.With(requireOne(auth.SubjectDepartment, auth.ActionUpdate)).Put("/department", a.updateDepartment)
		r.With(requireOne(auth.SubjectDepartment, auth.ActionDelete)).Delete("/department/{id}", a.deleteDepartment)
	})
}

func (a *API) mountHistory(r chi.Router) {
	r.With(a.guard(false, false), requireOne(auth.SubjectHistory, auth.ActionListing)).Get("/history", a.listHistory)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	page, err := a.admin.ListRoles(r.Context(), q)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.admin.GetRole(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, role)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req admin.RoleInput
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	role, err := a.admin.CreateRole(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req admin.RoleUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err)
		return
	}
	role, err := a.admin.UpdateRole(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	res, err := a.admin.DeleteRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) listDepartments(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	page, err := a.admin.ListDepartments(r.Context(), q)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (a *API) departmentTree(w http.ResponseWriter, r *http.Request) {
	tree, err := a.admin.DepartmentTree(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if tree == nil {
		tree = []auth.Department{}
	}
	writeData(w, http.StatusOK, tree)
}

func (a *API) getDepartment(w http.ResponseWriter, r *http.Request) {
	d, err := a.admin.GetDepartment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (a *API) createDepartment(w http.ResponseWriter, r *http.Request) {
	var req admin.DepartmentInput
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	d, err := a.admin.CreateDepartment(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, d)
}

func (a *API) updateDepartment(w http.ResponseWriter, r *http.Request) {
	var req admin.DepartmentUpdate
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err)
		return
	}
	d, err := a.admin.UpdateDepartment(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

func (a *API) deleteDepartment(w http.ResponseWriter, r *http.Request) {
	res, err := a.admin.DeleteDepartment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) listHistory(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	v := r.URL.Query()
	hq := auth.HistoryQuery{
		Query:     q,
		Subject:   strings.ToUpper(strings.TrimSpace(v.Get("subject"))),
		SubjectID: strings.TrimSpace(v.Get("subject_id")),
		UserID:    strings.TrimSpace(v.Get("user_id")),
	}
	page, err := a.admin.History(r.Context(), hq)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}
