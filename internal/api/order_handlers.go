package api

import (
	"errors"
	"net/http"

	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
)

const idempotencyKeyHeader = "Idempotency-Key"

func placeOrderHandler(a *api, svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlaceOrderRequest
		if err := decodeJSON(w, r, &req); err != nil {
			a.fail(w, r, err)
			return
		}

		in := pharmacy.PlaceOrderInput{
			PaymentMethod:  req.PaymentMethod,
			IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
			Items:          make([]pharmacy.OrderLine, 0, len(req.Items)),
		}
		if req.PrescriptionID != nil && *req.PrescriptionID != "" {
			id, err := parseUUID("prescription_id", *req.PrescriptionID)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			in.PrescriptionID = &id
		}
		for _, line := range req.Items {
			id, err := parseUUID("inventory_id", line.InventoryID)
			if err != nil {
				a.fail(w, r, err)
				return
			}
			in.Items = append(in.Items, pharmacy.OrderLine{InventoryID: id, Quantity: line.Quantity})
		}

		order, replayed, err := svc.PlaceOrder(r.Context(), session(r), in)
		if err != nil {
			a.fail(w, r, err)
			return
		}

		status := http.StatusCreated
		if replayed {
			status = http.StatusOK
		}
		w.Header().Set("Location", "/orders/"+order.ID.String())
		writeJSON(w, status, order)
	}
}

func listOrdersHandler(a *api, svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := paging(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		orders, err := svc.List(r.Context(), session(r), r.URL.Query().Get("status"), limit, offset)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
	}
}

func getOrderHandler(a *api, svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		order, err := svc.Get(r.Context(), session(r), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func payOrderHandler(a *api, svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		// the body is optional; without one the method chosen at placement is kept
		var req PayRequest
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
			a.fail(w, r, err)
			return
		}

		payment, err := svc.Pay(r.Context(), session(r), id, req.PaymentMethod)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payment)
	}
}

func setOrderStatusHandler(a *api, svc OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			a.fail(w, r, err)
			return
		}
		var req SetStatusRequest
		if err := decodeJSON(w, r, &req); err != nil {
			a.fail(w, r, err)
			return
		}

		order, err := svc.SetStatus(r.Context(), session(r), id, req.Status)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}
