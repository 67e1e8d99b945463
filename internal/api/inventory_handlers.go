package api

import (
	"net/http"
	"strconv"

	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

func listInventoryHandler(a *api, svc InventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := paging(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		owner, err := optionalUUIDQuery(r, "pharmacist_id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		includeEmpty, _ := strconv.ParseBool(r.URL.Query().Get("include_empty"))

		items, err := svc.List(r.Context(), pharmacy.InventoryFilter{
			PharmacistID: owner,
			Query:        r.URL.Query().Get("q"),
			IncludeEmpty: includeEmpty,
			Limit:        limit,
			Offset:       offset,
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func getInventoryHandler(a *api, svc InventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		item, err := svc.Get(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func createInventoryHandler(a *api, svc InventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InventoryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		expiry, err := parseDate("expiry_date", req.ExpiryDate)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		item, err := svc.Create(r.Context(), session(r), pharmacy.InventoryInput{
			MedicineName: req.MedicineName,
			GenericName:  req.GenericName,
			Stock:        req.Stock,
			Price:        req.Price,
			ExpiryDate:   expiry,
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func updateInventoryHandler(a *api, svc InventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		var req InventoryPatchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		expiry, err := parseDate("expiry_date", req.ExpiryDate)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		item, err := svc.Update(r.Context(), session(r), id, pharmacy.InventoryPatch{
			MedicineName: req.MedicineName,
			GenericName:  req.GenericName,
			Stock:        req.Stock,
			Price:        req.Price,
			ExpiryDate:   expiry,
		})
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func deleteInventoryHandler(a *api, svc InventoryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if err := svc.Delete(r.Context(), session(r), id); err != nil {
			a.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
