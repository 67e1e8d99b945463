package api

import (
	"net/http"

	"github.com/rxdesk/pharmacy-service/internal/auth"
	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

func listPatientsHandler(a *api, svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := paging(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		users, err := svc.ListPatients(r.Context(), session(r), r.URL.Query().Get("q"), limit, offset)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func getPatientHandler(a *api, svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		user, err := svc.GetPatient(r.Context(), session(r), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func listPharmacistsHandler(a *api, svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := paging(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		users, err := svc.ListPharmacists(r.Context(), r.URL.Query().Get("q"), limit, offset)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func listUsersHandler(a *api, svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := paging(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		var role *auth.Role
		if v := r.URL.Query().Get("role"); v != "" {
			parsed, err := auth.ParseRole(v)
			if err != nil {
				a.fail(w, r, pharmacy.ErrInvalidRole)
				return
			}
			role = &parsed
		}

		users, err := svc.ListUsers(r.Context(), session(r), role, r.URL.Query().Get("q"), limit, offset)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func statsHandler(a *api, svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context(), session(r))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func verifyDoctorHandler(a *api, svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		req := VerifyDoctorRequest{}
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				a.fail(w, r, err)
				return
			}
		}
		verified := true
		if req.Verified != nil {
			verified = *req.Verified
		}

		user, err := svc.SetDoctorVerified(r.Context(), session(r), id, verified)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func deleteUserHandler(a *api, svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if err := svc.DeleteUser(r.Context(), session(r), id); err != nil {
			a.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
