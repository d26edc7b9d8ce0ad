package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/admin"
	"gatehouse.org/internal/auth"
)

type setPasswordRequest struct {
	ID       string `json:"id"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	Password    string `json:"password"`
}

type setActiveRequest struct {
	ID     string `json:"id"`
	Active *bool  `json:"active"`
}

type setRolesRequest struct {
	ID     string   `json:"id"`
	RoleID []string `json:"roleId"`
}

type setPermissionsRequest struct {
	ID          string            `json:"id"`
	Permissions []auth.Permission `json:"permissions"`
}

type setDepartmentsRequest struct {
	ID           string   `json:"id"`
	DepartmentID []string `json:"departmentId"`
}

func (a *API) mountUsers(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(a.guard(true, false))
		r.Get("/user/me", a.me)
		r.Get("/user/menu", a.menu)
	})
	r.Group(func(r chi.Router) {
		r.Use(a.guard(false, false))
		r.With(requireOne(auth.SubjectUser, auth.UserListing)).Get("/user", a.listUsers)
		r.With(requireOne(auth.SubjectUser, auth.UserListing)).Get("/user/{key}", a.getUser)
		r.Patch("/user/profile", a.updateProfile)
		r.Patch("/user/change-password", a.changePassword)
		r.With(requireOne(auth.SubjectUser, auth.UserDelete)).Delete("/user/{id}", a.deleteUser)
		r.With(requireOne(auth.SubjectUser, auth.UserSetPassword)).Patch("/user/set-password", a.setPassword)
		r.With(requireOne(auth.SubjectUser, auth.UserSetActive)).Patch("/user/active", a.setActive)
		r.With(requireOne(auth.SubjectUser, auth.UserSetRole)).Patch("/user/role", a.setRoles)
		r.With(requireOne(auth.SubjectUser, auth.UserSetPermissions)).Patch("/user/permission", a.setPermissions)
		r.With(requireOne(auth.SubjectUser, auth.UserSetDepartment)).Patch("/user/department", a.setDepartments)
	})
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	u, err := a.admin.Me(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if u == nil {
		writeData(w, http.StatusOK, nil)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (a *API) menu(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, a.admin.Menu(r.Context()))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	q, err := listQuery(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	page, err := a.admin.ListUsers(r.Context(), q)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, page)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.admin.GetUser(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req admin.ProfileInput
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	u, err := a.admin.UpdateProfile(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, u)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := a.admin.ChangePassword(r.Context(), req.OldPassword, req.Password)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	a.clearCookie(w)
	writeData(w, http.StatusOK, res)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	res, err := a.admin.DeleteUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) setPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := a.admin.SetPassword(r.Context(), req.ID, req.Password)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) setActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err)
		return
	}
	if req.Active == nil {
		writeFailure(w, r, auth.Invalid("active", "Active must be a boolean"))
		return
	}
	res, err := a.admin.SetActive(r.Context(), req.ID, *req.Active)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) setRoles(w http.ResponseWriter, r *http.Request) {
	var req setRolesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := a.admin.SetRoles(r.Context(), req.ID, req.RoleID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) setPermissions(w http.ResponseWriter, r *http.Request) {
	var req setPermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := a.admin.SetPermissions(r.Context(), req.ID, req.Permissions)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (a *API) setDepartments(w http.ResponseWriter, r *http.Request) {
	var req setDepartmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, r, err)
		return
	}
	if err := requireID(req.ID); err != nil {
		writeFailure(w, r, err)
		return
	}
	res, err := a.admin.SetDepartments(r.Context(), req.ID, req.DepartmentID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func requireID(id string) error {
	if id == "" {
		return auth.Invalid("id", "ID is required")
	}
	return nil
}
