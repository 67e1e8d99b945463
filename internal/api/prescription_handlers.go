package api

import (
	"net/http"

	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

func createPrescriptionHandler(a *api, svc PrescriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePrescriptionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		patientID, err := parseUUID("patient_id", req.PatientID)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		in := pharmacy.CreatePrescriptionInput{
			PatientID: patientID,
			Diagnosis: req.Diagnosis,
			Notes:     req.Notes,
			Items:     make([]pharmacy.PrescriptionItemInput, 0, len(req.Items)),
		}
		for _, it := range req.Items {
			in.Items = append(in.Items, pharmacy.PrescriptionItemInput{
				MedicineName: it.MedicineName,
				Dosage:       it.Dosage,
				Frequency:    it.Frequency,
				Duration:     it.Duration,
				Instructions: it.Instructions,
			})
		}

		p, err := svc.Create(r.Context(), session(r), in)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func listPrescriptionsHandler(a *api, svc PrescriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := paging(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		patientID, err := optionalUUIDQuery(r, "patient_id")
		if err != nil {
			a.fail(w, r, err)
			return
		}

		list, err := svc.List(r.Context(), session(r), patientID, limit, offset)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func getPrescriptionHandler(a *api, svc PrescriptionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		p, err := svc.Validate(r.Context(), session(r), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
